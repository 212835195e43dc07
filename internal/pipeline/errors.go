package pipeline

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/sift/internal/prompt"
	"github.com/linnemanlabs/sift/internal/records"
	"github.com/linnemanlabs/sift/internal/redact"
	"github.com/linnemanlabs/sift/internal/similarity"
	"github.com/linnemanlabs/sift/internal/triage"
)

// ErrUnprocessable marks an alert that can never be processed, such as an
// empty payload.
var ErrUnprocessable = errors.New("pipeline: unprocessable alert")

// errPanic wraps a value recovered from a panicking stage.
var errPanic = errors.New("pipeline: panic while processing alert")

// Stage is a step in the life of a queue item.
type Stage string

const (
	StageDequeued     Stage = "dequeued"
	StageRedacting    Stage = "redacting"
	StageEnriching    Stage = "enriching"
	StagePrompting    Stage = "prompting"
	StageInvoking     Stage = "invoking"
	StageRestoring    Stage = "restoring"
	StageStoring      Stage = "storing"
	StageAcknowledged Stage = "acknowledged"
	StageDropped      Stage = "dropped"
)

// StageError records the stage an item failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Error classes reported to hooks.
const (
	ClassPoison    = "poison"
	ClassAuth      = "auth"
	ClassTransient = "transient"
	ClassPanic     = "panic"
)

// IsPoison reports whether err means the item can never succeed and should
// be dropped from the queue.
func IsPoison(err error) bool {
	for _, target := range []error{
		ErrUnprocessable,
		triage.ErrParse,
		redact.ErrPlaceholderSpace,
		prompt.ErrBudgetExhausted,
		similarity.ErrInvalidInput,
		records.ErrInvalidRecord,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Classify maps err to one of the Class constants.
func Classify(err error) string {
	switch {
	case errors.Is(err, errPanic):
		return ClassPanic
	case IsPoison(err):
		return ClassPoison
	case errors.Is(err, triage.ErrAuth):
		return ClassAuth
	default:
		return ClassTransient
	}
}
