package intel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sift/internal/redact"
)

// Metrics holds Prometheus metrics for threat-intel lookups.
type Metrics struct {
	LookupsTotal   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	CacheHitsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns lookup metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_intel_lookups_total",
			Help: "Threat-intel lookups by entity type and outcome.",
		}, []string{"type", "outcome"}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_intel_lookup_duration_seconds",
			Help:    "Duration of threat-intel lookups in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"type"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_intel_cache_hits_total",
			Help: "Threat-intel answers served from cache.",
		}, []string{"type"}),
	}

	reg.MustRegister(m.LookupsTotal, m.LookupDuration, m.CacheHitsTotal)
	return m
}

// Hooks returns checker hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLookup: func(c redact.Category, outcome string, dur time.Duration) {
			m.LookupsTotal.WithLabelValues(string(c), outcome).Inc()
			m.LookupDuration.WithLabelValues(string(c)).Observe(dur.Seconds())
		},
		OnCacheHit: func(c redact.Category) {
			m.CacheHitsTotal.WithLabelValues(string(c)).Inc()
		},
	}
}
