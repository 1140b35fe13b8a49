// Package metrics provides Prometheus metrics for authentication operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the identity layer. A nil
// *Metrics is a valid no-op recorder, so callers can hold an optional
// reference without nil checks.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authRequestsTotal *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// Token verification metrics
	verifyDuration prometheus.Histogram

	// Provisioning metrics
	provisionTotal *prometheus.CounterVec

	// Cache metrics (discovery documents, JWKS key sets)
	cacheEntriesTotal *prometheus.GaugeVec
	cacheHitsTotal    *prometheus.CounterVec
	cacheMissTotal    *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	// Authentication metrics
	m.authRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_auth_requests_total",
		Help: "Total successful authentications",
	}, []string{"method"})

	m.authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_auth_failures_total",
		Help: "Total authentication failures",
	}, []string{"method", "reason"})

	// Token verification metrics
	m.verifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcore_token_verify_duration_seconds",
		Help:    "Bearer token verification duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Provisioning metrics
	m.provisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_provision_total",
		Help: "Total JIT provisioning resolutions",
	}, []string{"outcome"})

	// Cache metrics
	m.cacheEntriesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authcore_cache_entries",
		Help: "Current number of entries in cache",
	}, []string{"cache_type"})

	m.cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache_type"})

	m.cacheMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache_type"})

	return m
}

// RecordAuthSuccess records a successful authentication by method
// (bearer, cookie, local, admin).
func (m *Metrics) RecordAuthSuccess(method string) {
	if m == nil || !m.enabled {
		return
	}
	m.authRequestsTotal.WithLabelValues(method).Inc()
}

// RecordAuthFailure records a failed authentication. reason is the
// verification failure kind or local-auth error tag.
func (m *Metrics) RecordAuthFailure(method, reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.authFailuresTotal.WithLabelValues(method, reason).Inc()
}

// RecordVerifyDuration records how long one bearer verification took.
func (m *Metrics) RecordVerifyDuration(seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.verifyDuration.Observe(seconds)
}

// RecordProvision records one JIT resolution outcome (created, existing,
// retried, failed).
func (m *Metrics) RecordProvision(outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.provisionTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil || !m.enabled {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil || !m.enabled {
		return
	}
	m.cacheMissTotal.WithLabelValues(cacheType).Inc()
}

// SetCacheSize sets the current cache size.
func (m *Metrics) SetCacheSize(cacheType string, size float64) {
	if m == nil || !m.enabled {
		return
	}
	m.cacheEntriesTotal.WithLabelValues(cacheType).Set(size)
}
