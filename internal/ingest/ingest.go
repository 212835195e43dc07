// Package ingest is the single entry point through which alerts reach the
// queue. Front ends (HTTP, NATS) only call Submit and render its Reply.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// MaxAlertBytes bounds a single alert payload.
const MaxAlertBytes = 64 << 10

var (
	// ErrEmpty is returned for a blank payload.
	ErrEmpty = errors.New("ingest: empty alert")

	// ErrTooLarge is returned for a payload over MaxAlertBytes.
	ErrTooLarge = errors.New("ingest: alert too large")
)

// Enqueuer is the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload string) (id string, inserted bool, err error)
}

// Result of a successful submission.
type Result struct {
	ID        string
	Duplicate bool
}

// Submit results reported to hooks.
const (
	ResultQueued    = "queued"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Hooks receives submission events. Nil funcs are skipped.
type Hooks struct {
	OnSubmit func(source, result string)
}

// Service validates and enqueues alerts.
type Service struct {
	queue  Enqueuer
	logger log.Logger
	hooks  Hooks
}

// NewService returns a Service over q.
func NewService(q Enqueuer, logger log.Logger, hooks Hooks) *Service {
	if q == nil {
		panic(xerrors.New("ingest: queue is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{queue: q, logger: logger.With("component", "ingest"), hooks: hooks}
}

// Submit enqueues payload. source names the front end for logs and metrics.
// Re-submitting an identical payload is not an error; the result is marked
// Duplicate.
func (s *Service) Submit(ctx context.Context, source string, payload []byte) (*Result, error) {
	if len(payload) > MaxAlertBytes {
		s.observe(source, ResultRejected)
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(payload), MaxAlertBytes)
	}
	if strings.TrimSpace(string(payload)) == "" {
		s.observe(source, ResultRejected)
		return nil, ErrEmpty
	}

	id, inserted, err := s.queue.Enqueue(ctx, string(payload))
	if err != nil {
		s.logger.Error(ctx, err, "failed to queue alert", "source", source, "bytes", len(payload))
		s.observe(source, ResultFailed)
		return nil, fmt.Errorf("enqueue alert: %w", err)
	}

	if inserted {
		s.observe(source, ResultQueued)
		s.logger.Info(ctx, "alert queued", "source", source, "id", id, "bytes", len(payload))
	} else {
		s.observe(source, ResultDuplicate)
		s.logger.Info(ctx, "duplicate alert ignored", "source", source, "id", id)
	}
	return &Result{ID: id, Duplicate: !inserted}, nil
}

func (s *Service) observe(source, result string) {
	if s.hooks.OnSubmit != nil {
		s.hooks.OnSubmit(source, result)
	}
}

// Reply is the body returned to a submitter.
type Reply struct {
	Message   string `json:"message"`
	ID        string `json:"id,omitempty"`
	Duplicate *bool  `json:"duplicate,omitempty"`
	Queued    *bool  `json:"queued,omitempty"`
}

// ReplyFor maps a Submit outcome to an HTTP status and body. A queue failure
// is reported with 200 and queued=false so senders that retry on 5xx do not
// hammer a broken store.
func ReplyFor(res *Result, err error) (int, Reply) {
	switch {
	case err == nil:
		dup := res.Duplicate
		return http.StatusAccepted, Reply{Message: "alert queued", ID: res.ID, Duplicate: &dup}
	case errors.Is(err, ErrEmpty):
		return http.StatusBadRequest, Reply{Message: "alert body is empty"}
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, Reply{Message: "alert body is too large"}
	default:
		queued := false
		return http.StatusOK, Reply{Message: "alert could not be queued", Queued: &queued}
	}
}
