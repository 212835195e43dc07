package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/prompt"
)

const testModel = "gpt-3.5-turbo-16k"

// mockProvider returns preconfigured responses in sequence.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []*LLMRequest
	callIdx   int
}

func (m *mockProvider) Send(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callIdx
	m.callIdx++
	m.requests = append(m.requests, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	// fallback: repeat the last response
	if len(m.responses) > 0 {
		return m.responses[len(m.responses)-1], nil
	}
	return &LLMResponse{Text: "fallback", Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

func textResponse(text string) *LLMResponse {
	return &LLMResponse{
		Text:       text,
		Model:      testModel,
		StopReason: "stop",
		Usage:      Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func testPrompt() *prompt.Prompt {
	return &prompt.Prompt{System: "system text", User: "user text", Tokens: 42}
}

func fastOpts() EngineOptions {
	return EngineOptions{Model: testModel, InitialInterval: time.Millisecond}
}

func TestAsk_FirstAttempt(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{textResponse(validAnswer)}}
	engine := NewEngine(provider, log.Nop(), fastOpts())

	ans, err := engine.Ask(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Verdict == nil || ans.Verdict.Classification != PossibleIncident {
		t.Fatalf("verdict = %+v", ans.Verdict)
	}
	if ans.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", ans.Attempts)
	}
	if ans.Usage.InputTokens != 100 || ans.Usage.OutputTokens != 50 {
		t.Errorf("Usage = %+v", ans.Usage)
	}
	if ans.Raw != validAnswer {
		t.Errorf("Raw = %q", ans.Raw)
	}

	req := provider.requests[0]
	if req.System != "system text" || len(req.Messages) != 1 || req.Messages[0].Content != "user text" {
		t.Errorf("request = %+v", req)
	}
	if req.Messages[0].Role != "user" {
		t.Errorf("role = %q", req.Messages[0].Role)
	}
	if req.MaxTokens != prompt.DefaultResponseTokens || req.Model != testModel {
		t.Errorf("MaxTokens = %d, Model = %q", req.MaxTokens, req.Model)
	}
}

func TestAsk_RetriesUnparseable(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{
		textResponse("I think this is bad."),
		textResponse(`{"classification":"maybe"}`),
		textResponse(validAnswer),
	}}
	engine := NewEngine(provider, log.Nop(), fastOpts())

	ans, err := engine.Ask(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", ans.Attempts)
	}
	if ans.Usage.InputTokens != 300 {
		t.Errorf("InputTokens = %d, want summed 300", ans.Usage.InputTokens)
	}
}

func TestAsk_ParseBudgetExhausted(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{textResponse("never json")}}
	opts := fastOpts()
	opts.RetryBudget = 40 * time.Millisecond
	engine := NewEngine(provider, log.Nop(), opts)

	start := time.Now()
	ans, err := engine.Ask(context.Background(), testPrompt())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if ans.Verdict != nil {
		t.Error("verdict set on failure")
	}
	if provider.calls() < 2 {
		t.Errorf("calls = %d, want retries", provider.calls())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry ran %v, far past its budget", elapsed)
	}
}

func TestAsk_MaxAttempts(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{textResponse("nope")}}
	opts := fastOpts()
	opts.MaxAttempts = 3
	engine := NewEngine(provider, log.Nop(), opts)

	_, err := engine.Ask(context.Background(), testPrompt())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if provider.calls() != 3 {
		t.Errorf("calls = %d, want 3", provider.calls())
	}
}

func TestAsk_ProviderErrorsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"auth", ErrAuth, ErrAuth},
		{"wrapped auth", errors.Join(errors.New("401"), ErrAuth), ErrAuth},
		{"transport", ErrTransport, ErrTransport},
		{"unclassified becomes transport", errors.New("connection reset"), ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &mockProvider{errs: []error{tt.err}}
			engine := NewEngine(provider, log.Nop(), fastOpts())

			ans, err := engine.Ask(context.Background(), testPrompt())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if errors.Is(err, ErrParse) {
				t.Error("provider error classified as parse error")
			}
			if provider.calls() != 1 || ans.Attempts != 1 {
				t.Errorf("calls = %d attempts = %d, want 1", provider.calls(), ans.Attempts)
			}
		})
	}
}

func TestAsk_TransportAfterParseFailure(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		responses: []*LLMResponse{textResponse("garbage")},
		errs:      []error{nil, ErrTransport},
	}
	engine := NewEngine(provider, log.Nop(), fastOpts())

	_, err := engine.Ask(context.Background(), testPrompt())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if provider.calls() != 2 {
		t.Errorf("calls = %d, want 2", provider.calls())
	}
}

func TestAsk_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	provider := &mockProvider{responses: []*LLMResponse{
		textResponse("garbage"),
		textResponse(validAnswer),
	}}
	opts := fastOpts()
	opts.Hooks = m.Hooks()
	engine := NewEngine(provider, log.Nop(), opts)

	if _, err := engine.Ask(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if got := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues(testModel)); got != 2 {
		t.Errorf("llm calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ParseFailuresTotal.WithLabelValues(testModel)); got != 1 {
		t.Errorf("parse failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AsksTotal.WithLabelValues(testModel, OutcomeOK)); got != 1 {
		t.Errorf("asks ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensIn.WithLabelValues(testModel)); got != 200 {
		t.Errorf("tokens in = %v, want 200", got)
	}
}

func TestNewEngine_Defaults(t *testing.T) {
	t.Parallel()

	e := NewEngine(&mockProvider{}, nil, EngineOptions{})
	if e.Model() != prompt.DefaultModel {
		t.Errorf("Model = %q", e.Model())
	}
	if e.opts.RetryBudget != DefaultRetryBudget {
		t.Errorf("RetryBudget = %v", e.opts.RetryBudget)
	}
	if e.opts.ResponseTokens != prompt.DefaultResponseTokens {
		t.Errorf("ResponseTokens = %d", e.opts.ResponseTokens)
	}
}

func TestAsk_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	provider := &mockProvider{responses: []*LLMResponse{
		textResponse("garbage"),
		textResponse(validAnswer),
	}}
	engine := NewEngine(provider, log.Nop(), fastOpts())
	if _, err := engine.Ask(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		if s.Name != "llm.ask" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v := attrs["sift.ask.attempts"]; v != int64(2) {
			t.Errorf("sift.ask.attempts = %v, want 2", v)
		}
		if v := attrs["sift.verdict.classification"]; v != string(PossibleIncident) {
			t.Errorf("sift.verdict.classification = %v", v)
		}
		if v := attrs["gen_ai.request.model"]; v != testModel {
			t.Errorf("gen_ai.request.model = %v", v)
		}
	}
	if counts["llm.ask"] != 1 {
		t.Errorf("llm.ask spans = %d, want 1", counts["llm.ask"])
	}
	if counts["llm.call"] != 2 {
		t.Errorf("llm.call spans = %d, want 2", counts["llm.call"])
	}
}
