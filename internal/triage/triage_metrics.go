package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AsksTotal          *prometheus.CounterVec
	AskDuration        *prometheus.HistogramVec
	AskAttempts        prometheus.Histogram
	LLMCallsTotal      *prometheus.CounterVec
	LLMTokensIn        *prometheus.CounterVec
	LLMTokensOut       *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	ParseFailuresTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AsksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_asks_total",
			Help: "Total verdict requests by model and outcome.",
		}, []string{"model", "outcome"}),
		AskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_ask_duration_seconds",
			Help:    "Duration of verdict requests including parse retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"model", "outcome"}),
		AskAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_triage_ask_attempts",
			Help:    "Provider calls per verdict request.",
			Buckets: prometheus.LinearBuckets(1, 1, 8), // 1 .. 8
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_calls_total",
			Help: "Total successful LLM provider calls.",
		}, []string{"model"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}, []string{"model"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}, []string{"model"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"model"}),
		ParseFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_parse_failures_total",
			Help: "Model answers that did not contain a valid verdict.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.AsksTotal,
		m.AskDuration,
		m.AskAttempts,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ParseFailuresTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(model string, inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.WithLabelValues(model).Inc()
			m.LLMTokensIn.WithLabelValues(model).Add(float64(inputTokens))
			m.LLMTokensOut.WithLabelValues(model).Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(model).Observe(duration)
		},
		OnParseFailure: func(model string) {
			m.ParseFailuresTotal.WithLabelValues(model).Inc()
		},
		OnAsk: func(model, outcome string, attempts int, duration float64) {
			m.AsksTotal.WithLabelValues(model, outcome).Inc()
			m.AskDuration.WithLabelValues(model, outcome).Observe(duration)
			m.AskAttempts.Observe(float64(attempts))
		},
	}
}
