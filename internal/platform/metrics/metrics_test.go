package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_DomainCounters(t *testing.T) {
	c := NewCollector("referrals_test")

	c.ReferralCreated()
	c.ReferralCreated()
	c.StatusChanged("SCHEDULED")
	c.DocumentUploaded()
	c.DeleteBlocked("practice")
	c.BlobDeleteFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ReferralsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StatusChanges.WithLabelValues("SCHEDULED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DocumentsUploaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DeletesBlocked.WithLabelValues("practice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BlobDeleteFailures))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ReferralCreated()
		c.StatusChanged("NEW")
		c.DocumentUploaded()
		c.DeleteBlocked("doctor")
		c.BlobDeleteFailed()
	})
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("referrals_test")
	b := NewCollector("referrals_test")
	a.ReferralCreated()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ReferralsCreated))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("referrals_test")
	c.ReferralCreated()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "referrals_test_referrals_created_total 1"))
}
