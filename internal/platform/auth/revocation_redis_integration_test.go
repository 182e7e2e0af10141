//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisRevocationStore_Container(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := NewRedisRevocationStore(ctx, url)
	require.NoError(t, err)
	defer store.Close()

	jti := uuid.NewString()
	require.NoError(t, store.Revoke(ctx, jti, time.Now().Add(2*time.Second)))
	revoked, err := store.IsRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.Eventually(t, func() bool {
		revoked, err := store.IsRevoked(ctx, jti)
		return err == nil && !revoked
	}, 10*time.Second, 250*time.Millisecond, "entry should expire with the token")
}
