// Package pipeline drains the alert queue: each item is redacted, enriched
// with threat intelligence and similarity, judged by the model, restored and
// stored before it is acknowledged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/intel"
	"github.com/linnemanlabs/sift/internal/prompt"
	"github.com/linnemanlabs/sift/internal/queue"
	"github.com/linnemanlabs/sift/internal/records"
	"github.com/linnemanlabs/sift/internal/redact"
	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/pipeline")

const (
	DefaultBatchSize    = 20
	DefaultPollInterval = 10 * time.Second
)

// Item outcomes reported to hooks.
const (
	OutcomeStored  = "stored"
	OutcomeDropped = "dropped"
	OutcomeRetry   = "retry"
	OutcomeAuth    = "auth"
)

// Queue is the durable work queue.
type Queue interface {
	Dequeue(ctx context.Context, limit int) ([]queue.Item, error)
	Acknowledge(ctx context.Context, ids ...string) error
}

// Redactor replaces sensitive entities with placeholders.
type Redactor interface {
	Redact(text string, b redact.Bundle) (string, *redact.Map, error)
}

// Intel looks up every entity of a bundle. It never fails; lookups that
// error are simply missing from the result.
type Intel interface {
	Check(ctx context.Context, b redact.Bundle) []intel.Finding
}

// Similarity embeds text and counts close historical records.
type Similarity interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	CountSimilar(ctx context.Context, vec []float32) (int, error)
}

// PromptBuilder assembles a budgeted prompt.
type PromptBuilder interface {
	Build(alert string, findings []intel.Finding, similar int, budget int) (*prompt.Prompt, error)
}

// Model asks for a verdict.
type Model interface {
	Ask(ctx context.Context, p *prompt.Prompt) (*triage.Answer, error)
}

// RecordStore persists processed alerts.
type RecordStore interface {
	Insert(ctx context.Context, r *records.Record) error
}

// Notifier is told about records classified as possible incidents.
type Notifier interface {
	Send(ctx context.Context, r *records.Record) error
}

// Deps are the collaborators a Worker drives. Notifier is optional.
type Deps struct {
	Queue      Queue
	Redactor   Redactor
	Intel      Intel
	Similarity Similarity
	Prompts    PromptBuilder
	Model      Model
	Records    RecordStore
	Notifier   Notifier
}

// Hooks receives worker events. Nil funcs are skipped.
type Hooks struct {
	OnBatch      func(size int)
	OnItem       func(outcome string, duration float64)
	OnStageError func(stage Stage, class string)
}

// Options tunes a Worker. Zero values take defaults.
type Options struct {
	BatchSize    int
	PollInterval time.Duration

	// Concurrency > 1 processes the items of a batch in parallel.
	Concurrency int

	// TokenBudget is passed to the prompt builder; zero uses the model's
	// context window.
	TokenBudget int

	Hooks Hooks
}

// BatchResult summarises one PollOnce call.
type BatchResult struct {
	Dequeued int
	Stored   int
	Dropped  int
	Failed   int
}

func (r *BatchResult) add(outcome string) {
	switch outcome {
	case OutcomeStored:
		r.Stored++
	case OutcomeDropped:
		r.Dropped++
	default:
		r.Failed++
	}
}

// Worker runs the poll, process, acknowledge loop.
type Worker struct {
	deps   Deps
	opts   Options
	logger log.Logger
}

// NewWorker returns a Worker. It panics when a required dependency is nil.
func NewWorker(deps Deps, logger log.Logger, opts Options) *Worker {
	switch {
	case deps.Queue == nil:
		panic(xerrors.New("pipeline: queue is required"))
	case deps.Redactor == nil:
		panic(xerrors.New("pipeline: redactor is required"))
	case deps.Intel == nil:
		panic(xerrors.New("pipeline: intel checker is required"))
	case deps.Similarity == nil:
		panic(xerrors.New("pipeline: similarity gateway is required"))
	case deps.Prompts == nil:
		panic(xerrors.New("pipeline: prompt builder is required"))
	case deps.Model == nil:
		panic(xerrors.New("pipeline: model is required"))
	case deps.Records == nil:
		panic(xerrors.New("pipeline: record store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Worker{deps: deps, opts: opts, logger: logger.With("component", "pipeline")}
}

// Run polls until ctx is cancelled. It sleeps PollInterval whenever the
// queue is empty, the queue cannot be read or the model rejects credentials.
// Items already being processed when ctx is cancelled run to completion.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "pipeline worker started",
		"batch_size", w.opts.BatchSize,
		"poll_interval", w.opts.PollInterval,
		"concurrency", w.opts.Concurrency,
	)
	for {
		res, err := w.PollOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info(ctx, "pipeline worker stopped")
			return nil
		}
		if err == nil && res.Dequeued > 0 {
			continue
		}

		t := time.NewTimer(w.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			w.logger.Info(ctx, "pipeline worker stopped")
			return nil
		case <-t.C:
		}
	}
}

// PollOnce dequeues one batch and processes it. The returned error is
// non-nil when the queue could not be read or the model provider rejected
// its credentials; in the latter case the rest of the batch is left queued.
func (w *Worker) PollOnce(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	items, err := w.deps.Queue.Dequeue(ctx, w.opts.BatchSize)
	if err != nil {
		w.logger.Error(ctx, err, "failed to read queue")
		return res, fmt.Errorf("dequeue: %w", err)
	}
	res.Dequeued = len(items)
	if w.opts.Hooks.OnBatch != nil {
		w.opts.Hooks.OnBatch(len(items))
	}
	if len(items) == 0 {
		return res, nil
	}

	if w.opts.Concurrency == 1 {
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			outcome, err := w.handle(ctx, item)
			res.add(outcome)
			if outcome == OutcomeAuth {
				return res, err
			}
		}
		return res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := w.handle(gctx, item)
			mu.Lock()
			res.add(outcome)
			mu.Unlock()
			if outcome == OutcomeAuth {
				return err
			}
			return nil
		})
	}
	return res, g.Wait()
}

// handle processes one item to a terminal outcome and acknowledges it when
// appropriate. It never lets a failure escape except an auth failure.
func (w *Worker) handle(ctx context.Context, item queue.Item) (string, error) {
	start := time.Now()
	runID := ulid.Make().String()

	// in-flight work survives shutdown
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "pipeline.item", trace.WithAttributes(
		attribute.String("sift.alert.id", item.ID),
		attribute.String("sift.run.id", runID),
		attribute.Int("sift.alert.bytes", len(item.Payload)),
	))
	defer span.End()

	L := w.logger.With("alert_id", item.ID, "run_id", runID)
	ctx = log.WithContext(ctx, L)

	err := w.process(ctx, item, runID, L)
	if err == nil {
		err = stageErr(StageAcknowledged, w.deps.Queue.Acknowledge(ctx, item.ID))
	}

	outcome := OutcomeStored
	if err != nil {
		stage, class := StageOf(err), Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.String("sift.stage", string(stage)),
			attribute.String("sift.error.class", class),
		)
		if w.opts.Hooks.OnStageError != nil {
			w.opts.Hooks.OnStageError(stage, class)
		}

		switch class {
		case ClassPoison:
			L.Error(ctx, err, "dropping unprocessable alert", "stage", stage)
			outcome = OutcomeDropped
			if ackErr := w.deps.Queue.Acknowledge(ctx, item.ID); ackErr != nil {
				L.Error(ctx, ackErr, "failed to acknowledge dropped alert")
				outcome = OutcomeRetry
			}
		case ClassAuth:
			L.Error(ctx, err, "model provider rejected credentials, leaving alert queued", "stage", stage)
			outcome = OutcomeAuth
		case ClassPanic:
			L.Error(ctx, err, "recovered panic while processing alert, leaving it queued", "stage", stage)
			outcome = OutcomeRetry
		default:
			L.Warn(ctx, "alert processing failed, will retry", "stage", stage, "err", err)
			outcome = OutcomeRetry
		}
	} else {
		L.Info(ctx, "alert processed", "duration", time.Since(start))
	}

	span.SetAttributes(attribute.String("sift.outcome", outcome))
	if w.opts.Hooks.OnItem != nil {
		w.opts.Hooks.OnItem(outcome, time.Since(start).Seconds())
	}
	return outcome, err
}

// process runs every stage up to and including storage.
func (w *Worker) process(ctx context.Context, item queue.Item, runID string, L log.Logger) (err error) {
	stage := StageDequeued
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: stage, Err: fmt.Errorf("%w: %v", errPanic, r)}
		}
	}()

	text := sanitize(item.Payload)
	if strings.TrimSpace(text) == "" {
		return stageErr(stage, ErrUnprocessable)
	}

	stage = StageRedacting
	bundle := redact.Extract(text)
	redacted, m, err := w.deps.Redactor.Redact(text, bundle)
	if err != nil {
		return stageErr(stage, err)
	}

	stage = StageEnriching
	findings := redactFindings(w.deps.Intel.Check(ctx, bundle), m)

	vec, err := w.deps.Similarity.Embed(ctx, text)
	if err != nil {
		return stageErr(stage, err)
	}
	similar, err := w.deps.Similarity.CountSimilar(ctx, vec)
	if err != nil {
		L.Warn(ctx, "similarity count unavailable", "err", err)
		similar = -1
	}

	stage = StagePrompting
	p, err := w.deps.Prompts.Build(redacted, findings, similar, w.opts.TokenBudget)
	if err != nil {
		return stageErr(stage, err)
	}
	if p.Truncated {
		L.Warn(ctx, "alert truncated to fit token budget", "prompt_tokens", p.Tokens)
	}

	stage = StageInvoking
	ans, err := w.deps.Model.Ask(ctx, p)
	if err != nil {
		return stageErr(stage, err)
	}

	stage = StageRestoring
	verdict, err := restore(ans.Verdict, m)
	if err != nil {
		return stageErr(stage, err)
	}

	stage = StageStoring
	rec := &records.Record{
		ID:          item.ID,
		AlertBody:   text,
		Domains:     bundle.Domains,
		IPs:         bundle.IPs,
		Emails:      bundle.Emails,
		Evaluation:  string(verdict.Classification),
		Reasoning:   verdict.Reasoning,
		NextSteps:   verdict.NextSteps,
		Vector:      vec,
		Model:       ans.Model,
		RunID:       runID,
		ProcessedAt: time.Now().UTC(),
	}
	if err := w.deps.Records.Insert(ctx, rec); err != nil {
		return stageErr(stage, err)
	}

	L.Info(ctx, "verdict stored",
		"classification", verdict.Classification,
		"entities", bundle.Len(),
		"findings", len(findings),
		"similar", similar,
		"attempts", ans.Attempts,
	)

	if verdict.Classification == triage.PossibleIncident && w.deps.Notifier != nil {
		if err := w.deps.Notifier.Send(ctx, rec); err != nil {
			L.Warn(ctx, "notification failed", "err", err)
		}
	}
	return nil
}

// sanitize replaces invalid UTF-8 and NUL bytes, neither of which survives
// tokenization or a Postgres text column.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

// restore swaps placeholders in the verdict back to real values and
// re-validates the result.
func restore(v *triage.Verdict, m *redact.Map) (*triage.Verdict, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: model returned no verdict", triage.ErrParse)
	}
	raw, err := triage.MarshalVerdict(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode verdict: %v", triage.ErrParse, err)
	}
	restored, err := triage.UnmarshalVerdict([]byte(m.Restore(string(raw))))
	if err != nil {
		return nil, errors.Join(errors.New("restored verdict is invalid"), err)
	}
	return restored, nil
}

// redactFindings rewrites the entity values inside findings to their
// placeholders so no real value reaches the prompt.
func redactFindings(fs []intel.Finding, m *redact.Map) []intel.Finding {
	if len(fs) == 0 {
		return nil
	}
	out := make([]intel.Finding, len(fs))
	for i, f := range fs {
		f.Value = m.Apply(f.Value)
		if len(f.Tags) > 0 {
			tags := make([]string, len(f.Tags))
			for j, t := range f.Tags {
				tags[j] = m.Apply(t)
			}
			f.Tags = tags
		}
		out[i] = f
	}
	return out
}
