// Package metrics holds the resolver's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	ResolveOutcomes      *prometheus.CounterVec
	ResolveDuration      prometheus.Histogram
	CacheErrors          *prometheus.CounterVec
	CacheDuration        *prometheus.HistogramVec
	ClusterConflicts     prometheus.Counter
	EventPublishFailures prometheus.Counter
}

// New creates and registers resolver metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ResolveOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identify_contact_resolve_total",
			Help: "Resolve calls by outcome",
		}, []string{"outcome"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identify_contact_resolve_duration_seconds",
			Help:    "Time spent resolving an identity",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		CacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identify_contact_cache_errors_total",
			Help: "Result cache failures by operation",
		}, []string{"op"}),
		CacheDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identify_contact_cache_duration_seconds",
			Help:    "Result cache round-trip time by operation",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"op"}),
		ClusterConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "identify_contact_cluster_conflicts_total",
			Help: "Resolve calls whose matches spanned more than one cluster",
		}),
		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "identify_contact_event_publish_failures_total",
			Help: "Contact events that could not be published",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ResolveOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(d.Seconds())
}

func (m *Metrics) IncCacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveCacheLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.CacheDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) IncClusterConflict() {
	if m == nil {
		return
	}
	m.ClusterConflicts.Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}
