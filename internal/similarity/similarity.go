// Package similarity embeds alert bodies and counts how many previously
// processed alerts sit close to a new one in vector space.
package similarity

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
)

// ErrInvalidInput marks text the embedding service refuses outright. Retrying
// the same text cannot succeed.
var ErrInvalidInput = errors.New("similarity: embedding input rejected")

// DefaultLimit bounds how many neighbours CountSimilar will count.
const DefaultLimit = 1000

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index counts stored vectors near vec, up to limit.
type Index interface {
	QuerySimilar(ctx context.Context, vec []float32, limit int) (int, error)
}

// Gateway combines an Embedder with a nearest-neighbour Index.
type Gateway struct {
	embedder Embedder
	index    Index
	limit    int
	logger   log.Logger
}

// NewGateway returns a Gateway. A non-positive limit falls back to
// DefaultLimit.
func NewGateway(e Embedder, idx Index, limit int, logger log.Logger) *Gateway {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{embedder: e, index: idx, limit: limit, logger: logger}
}

// Embed returns the vector for text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("embed: empty vector")
	}
	return vec, nil
}

// CountSimilar returns how many stored records are near vec.
func (g *Gateway) CountSimilar(ctx context.Context, vec []float32) (int, error) {
	n, err := g.index.QuerySimilar(ctx, vec, g.limit)
	if err != nil {
		g.logger.Warn(ctx, "similarity query failed", "err", err)
		return 0, fmt.Errorf("count similar: %w", err)
	}
	return n, nil
}
