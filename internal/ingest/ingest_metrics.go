package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for alert ingestion.
type Metrics struct {
	SubmitsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_ingest_submits_total",
			Help: "Total alert submissions by source and result.",
		}, []string{"source", "result"}),
	}
	reg.MustRegister(m.SubmitsTotal)
	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnSubmit: func(source, result string) {
			m.SubmitsTotal.WithLabelValues(source, result).Inc()
		},
	}
}
