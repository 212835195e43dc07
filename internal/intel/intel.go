// Package intel looks up the reputation of extracted entities in a
// threat-intelligence source. Sources sit behind Provider; Checker walks an
// entity bundle, caches answers and never lets a lookup failure escape.
package intel

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/sift/internal/redact"
)

// Finding is what a source knows about one entity.
type Finding struct {
	Type       redact.Category `json:"type"`
	Value      string          `json:"value"`
	Reputation string          `json:"reputation"`
	LastSeen   time.Time       `json:"last_seen,omitzero"`
	Tags       []string        `json:"tags,omitempty"`
}

// Provider checks a single entity. A nil finding with a nil error means the
// source has no record of it.
type Provider interface {
	Check(ctx context.Context, c redact.Category, value string) (*Finding, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, c redact.Category, value string) (*Finding, error)

// Check implements Provider.
func (f ProviderFunc) Check(ctx context.Context, c redact.Category, value string) (*Finding, error) {
	return f(ctx, c, value)
}

// Chain asks each provider in turn and returns the first finding.
type Chain []Provider

// Check implements Provider. Errors are only reported when no provider
// produced a finding.
func (ch Chain) Check(ctx context.Context, c redact.Category, value string) (*Finding, error) {
	var errs []error
	for _, p := range ch {
		f, err := p.Check(ctx, c, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, errors.Join(errs...)
}
