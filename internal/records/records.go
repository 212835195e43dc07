// Package records defines the persisted outcome of processing one alert and
// the store interface behind it.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDimension is returned when a vector does not match the store's width.
	ErrDimension = errors.New("records: vector dimension mismatch")

	// ErrInvalidRecord means the store rejected the record's content and
	// would reject it again on every retry.
	ErrInvalidRecord = errors.New("records: invalid record")
)

// Record is one processed alert. Real entity values are stored, never
// placeholders.
type Record struct {
	ID          string          `json:"id"`
	AlertBody   string          `json:"alert_body"`
	Domains     []string        `json:"domain_list"`
	IPs         []string        `json:"ip_list"`
	Emails      []string        `json:"email_list"`
	Evaluation  string          `json:"evaluation"`
	Reasoning   json.RawMessage `json:"reasoning"`
	NextSteps   json.RawMessage `json:"next_steps"`
	Vector      []float32       `json:"-"`
	Model       string          `json:"model,omitempty"`
	RunID       string          `json:"run_id,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// Store persists records. Insert is idempotent on ID: a second insert of the
// same id is a silent no-op.
type Store interface {
	CreateSchemaIfAbsent(ctx context.Context) error
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, bool, error)
	// QuerySimilar counts stored records whose vectors are near vec, bounded
	// by limit.
	QuerySimilar(ctx context.Context, vec []float32, limit int) (int, error)
}
