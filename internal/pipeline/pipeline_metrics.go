package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the pipeline worker.
type Metrics struct {
	ItemsTotal       *prometheus.CounterVec
	ItemDuration     *prometheus.HistogramVec
	StageErrorsTotal *prometheus.CounterVec
	BatchSize        prometheus.Histogram
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_pipeline_items_total",
			Help: "Queue items handled by outcome.",
		}, []string{"outcome"}),
		ItemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_pipeline_item_duration_seconds",
			Help:    "Time spent on one queue item in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"outcome"}),
		StageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_pipeline_stage_errors_total",
			Help: "Item failures by stage and error class.",
		}, []string{"stage", "class"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_pipeline_batch_size",
			Help:    "Items returned per queue poll.",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0 .. 50
		}),
	}

	reg.MustRegister(
		m.ItemsTotal,
		m.ItemDuration,
		m.StageErrorsTotal,
		m.BatchSize,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnBatch: func(size int) {
			m.BatchSize.Observe(float64(size))
		},
		OnItem: func(outcome string, duration float64) {
			m.ItemsTotal.WithLabelValues(outcome).Inc()
			m.ItemDuration.WithLabelValues(outcome).Observe(duration)
		},
		OnStageError: func(stage Stage, class string) {
			m.StageErrorsTotal.WithLabelValues(string(stage), class).Inc()
		},
	}
}
