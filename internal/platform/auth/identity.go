package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a staff account's permission level.
type Role string

const (
	RoleStaff Role = "STAFF"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID    uuid.UUID
	Name      string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's id, or uuid.Nil when unauthenticated
// or running as the development identity.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}
