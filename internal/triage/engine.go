// internal/triage/engine.go
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/prompt"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage")

const (
	// DefaultRetryBudget bounds the wall-clock time spent retrying
	// unparseable answers.
	DefaultRetryBudget = 3 * time.Second

	defaultInitialInterval = 250 * time.Millisecond
)

// Ask outcomes reported to hooks.
const (
	OutcomeOK        = "ok"
	OutcomeParse     = "parse_error"
	OutcomeAuth      = "auth_error"
	OutcomeTransport = "transport_error"
)

// EngineHooks receives engine events. Nil funcs are skipped.
type EngineHooks struct {
	OnLLMCall      func(model string, inputTokens, outputTokens int, duration float64)
	OnParseFailure func(model string)
	OnAsk          func(model, outcome string, attempts int, duration float64)
}

// EngineOptions tunes an Engine. Zero values take defaults.
type EngineOptions struct {
	Model          string
	ResponseTokens int

	// RetryBudget is the wall-clock limit for parse retries.
	RetryBudget time.Duration

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxAttempts caps provider calls per Ask. Zero means only the budget
	// applies.
	MaxAttempts uint

	Hooks EngineHooks
}

// Engine turns a prompt into a verdict.
type Engine struct {
	provider Provider
	logger   log.Logger
	opts     EngineOptions
}

// NewEngine creates a new engine over provider.
func NewEngine(provider Provider, logger log.Logger, opts EngineOptions) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Model == "" {
		opts.Model = prompt.DefaultModel
	}
	if opts.ResponseTokens <= 0 {
		opts.ResponseTokens = prompt.DefaultResponseTokens
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	return &Engine{provider: provider, logger: logger, opts: opts}
}

// Model returns the model the engine asks.
func (e *Engine) Model() string { return e.opts.Model }

// Ask sends p to the provider and parses the verdict. Unparseable answers are
// retried with exponential backoff until the retry budget runs out, at which
// point the returned error wraps ErrParse. Provider failures are returned at
// once, wrapped in ErrAuth or ErrTransport.
func (e *Engine) Ask(ctx context.Context, p *prompt.Prompt) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "llm.ask", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", e.opts.Model),
		attribute.Int("gen_ai.request.max_tokens", e.opts.ResponseTokens),
		attribute.Int("sift.prompt.tokens", p.Tokens),
		attribute.Bool("sift.prompt.truncated", p.Truncated),
	))
	defer span.End()

	start := time.Now()
	ans := &Answer{Model: e.opts.Model}

	op := func() (*Verdict, error) {
		ans.Attempts++
		resp, err := e.call(ctx, p, ans.Attempts)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		ans.Raw = resp.Text
		ans.Usage.InputTokens += resp.Usage.InputTokens
		ans.Usage.OutputTokens += resp.Usage.OutputTokens
		if resp.Model != "" {
			ans.Model = resp.Model
		}

		v, err := ParseVerdict(resp.Text)
		if err != nil {
			if e.opts.Hooks.OnParseFailure != nil {
				e.opts.Hooks.OnParseFailure(e.opts.Model)
			}
			return nil, err
		}
		return v, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.InitialInterval

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(e.opts.RetryBudget),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Warn(ctx, "model answer could not be parsed, retrying",
				"err", err,
				"attempt", ans.Attempts,
				"retry_in", next,
			)
		}),
	}
	if e.opts.MaxAttempts > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(e.opts.MaxAttempts))
	}

	v, err := backoff.Retry(ctx, op, retryOpts...)
	outcome := classify(err)
	dur := time.Since(start).Seconds()

	span.SetAttributes(
		attribute.Int("sift.ask.attempts", ans.Attempts),
		attribute.String("sift.ask.outcome", outcome),
		attribute.Int("gen_ai.usage.input_tokens", ans.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", ans.Usage.OutputTokens),
	)
	if e.opts.Hooks.OnAsk != nil {
		e.opts.Hooks.OnAsk(e.opts.Model, outcome, ans.Attempts, dur)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ans, err
	}

	ans.Verdict = v
	span.SetAttributes(attribute.String("sift.verdict.classification", string(v.Classification)))
	return ans, nil
}

// call performs one provider request under its own span.
func (e *Engine) call(ctx context.Context, p *prompt.Prompt, attempt int) (*LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("gen_ai.request.model", e.opts.Model),
		attribute.Int("sift.ask.attempt", attempt),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.provider.Send(ctx, &LLMRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.ResponseTokens,
		System:    p.System,
		Messages:  []Message{{Role: "user", Content: p.User}},
	})
	dur := time.Since(start).Seconds()

	if err != nil {
		if !errors.Is(err, ErrAuth) && !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, err, "llm call failed", "model", e.opts.Model, "attempt", attempt)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if e.opts.Hooks.OnLLMCall != nil {
		e.opts.Hooks.OnLLMCall(e.opts.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, dur)
	}
	e.logger.Info(ctx, "llm response",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"attempt", attempt,
	)
	return resp, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrAuth):
		return OutcomeAuth
	case errors.Is(err, ErrTransport):
		return OutcomeTransport
	case errors.Is(err, ErrParse):
		return OutcomeParse
	default:
		// context cancellation while waiting between parse retries
		return OutcomeTransport
	}
}
