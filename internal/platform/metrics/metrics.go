// Package metrics exposes Prometheus counters for HTTP traffic and referral
// activity. Each Collector owns its registry so tests can build as many as
// they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	ReferralsCreated   prometheus.Counter
	StatusChanges      *prometheus.CounterVec
	DocumentsUploaded  prometheus.Counter
	DeletesBlocked     *prometheus.CounterVec
	BlobDeleteFailures prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ReferralsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referrals",
			Name:      "created_total",
			Help:      "Total referrals created.",
		}),

		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referrals",
			Name:      "status_changes_total",
			Help:      "Referral status changes by target status.",
		}, []string{"status"}),

		DocumentsUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referrals",
			Name:      "documents_uploaded_total",
			Help:      "Total referral documents stored.",
		}),

		DeletesBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "deletes_blocked_total",
			Help:      "Directory deletes refused because referrals still point at the entity.",
		}, []string{"entity"}),

		BlobDeleteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "delete_failures_total",
			Help:      "Best-effort blob deletions that failed and were skipped.",
		}),
	}
}

// The helpers below accept a nil receiver so services can run without metrics.

func (c *Collector) ReferralCreated() {
	if c != nil {
		c.ReferralsCreated.Inc()
	}
}

func (c *Collector) StatusChanged(status string) {
	if c != nil {
		c.StatusChanges.WithLabelValues(status).Inc()
	}
}

func (c *Collector) DocumentUploaded() {
	if c != nil {
		c.DocumentsUploaded.Inc()
	}
}

func (c *Collector) DeleteBlocked(entity string) {
	if c != nil {
		c.DeletesBlocked.WithLabelValues(entity).Inc()
	}
}

func (c *Collector) BlobDeleteFailed() {
	if c != nil {
		c.BlobDeleteFailures.Inc()
	}
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
