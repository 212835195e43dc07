// Package memstore provides an in-memory implementation of records.Store.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/linnemanlabs/sift/internal/records"
)

// Store holds records in memory. Suitable for dev/testing.
type Store struct {
	mu          sync.RWMutex
	records     map[string]*records.Record
	dim         int
	maxDistance float64
}

// New initializes a new in-memory Store. Vectors must have dim entries;
// maxDistance is the cosine distance under which a record counts as similar
// (zero counts every neighbour up to the limit).
func New(dim int, maxDistance float64) *Store {
	return &Store{
		records:     make(map[string]*records.Record),
		dim:         dim,
		maxDistance: maxDistance,
	}
}

// CreateSchemaIfAbsent is a no-op.
func (s *Store) CreateSchemaIfAbsent(context.Context) error { return nil }

// Insert stores a copy of r unless a record with the same id exists.
func (s *Store) Insert(_ context.Context, r *records.Record) error {
	if len(r.Vector) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", records.ErrDimension, len(r.Vector), s.dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return nil
	}
	s.records[r.ID] = clone(r)
	return nil
}

// Get retrieves a record by id. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*records.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// QuerySimilar counts the nearest records by cosine distance, up to limit.
func (s *Store) QuerySimilar(_ context.Context, vec []float32, limit int) (int, error) {
	if len(vec) != s.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", records.ErrDimension, len(vec), s.dim)
	}
	if limit <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	dists := make([]float64, 0, len(s.records))
	for _, r := range s.records {
		dists = append(dists, cosineDistance(vec, r.Vector))
	}
	s.mu.RUnlock()

	sort.Float64s(dists)
	n := 0
	for _, d := range dists {
		if n == limit {
			break
		}
		if s.maxDistance > 0 && d > s.maxDistance {
			break
		}
		n++
	}
	return n, nil
}

// Len reports how many records are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(r *records.Record) *records.Record {
	cp := *r
	cp.Domains = append([]string(nil), r.Domains...)
	cp.IPs = append([]string(nil), r.IPs...)
	cp.Emails = append([]string(nil), r.Emails...)
	cp.Reasoning = append(json.RawMessage(nil), r.Reasoning...)
	cp.NextSteps = append(json.RawMessage(nil), r.NextSteps...)
	cp.Vector = append([]float32(nil), r.Vector...)
	return &cp
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
