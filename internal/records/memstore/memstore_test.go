package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/records"
)

func testRecord(id string, vec []float32) *records.Record {
	return &records.Record{
		ID:          id,
		AlertBody:   "alert " + id,
		Domains:     []string{"evil.net"},
		IPs:         []string{"203.0.113.9"},
		Emails:      []string{"x@evil.net"},
		Evaluation:  "possible-incident",
		Reasoning:   json.RawMessage(`["r1"]`),
		NextSteps:   json.RawMessage(`[{"step":1,"action":"a","details":"d"}]`),
		Vector:      vec,
		Model:       "gpt-3.5-turbo-16k",
		ProcessedAt: time.Now(),
	}
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()

	s := New(3, 0)
	ctx := context.Background()
	r := testRecord("a", []float32{1, 0, 0})

	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if got.AlertBody != r.AlertBody || got.Evaluation != r.Evaluation || string(got.Reasoning) != string(r.Reasoning) {
		t.Errorf("got %+v", got)
	}

	// mutating the returned copy must not affect the store
	got.IPs[0] = "mutated"
	again, _, _ := s.Get(ctx, "a")
	if again.IPs[0] != "203.0.113.9" {
		t.Errorf("store mutated through returned copy: %v", again.IPs)
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()

	s := New(3, 0)
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil || ok {
		t.Errorf("Get(missing) ok=%v err=%v", ok, err)
	}
}

func TestInsert_Idempotent(t *testing.T) {
	t.Parallel()

	s := New(2, 0)
	ctx := context.Background()
	first := testRecord("dup", []float32{1, 0})
	second := testRecord("dup", []float32{0, 1})
	second.Evaluation = "standard-alert"

	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, second); err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	got, _, _ := s.Get(ctx, "dup")
	if got.Evaluation != "possible-incident" {
		t.Errorf("record was overwritten: %q", got.Evaluation)
	}
}

func TestInsert_DimensionMismatch(t *testing.T) {
	t.Parallel()

	s := New(3, 0)
	err := s.Insert(context.Background(), testRecord("x", []float32{1}))
	if !errors.Is(err, records.ErrDimension) {
		t.Fatalf("err = %v, want ErrDimension", err)
	}
	if _, err := s.QuerySimilar(context.Background(), []float32{1}, 10); !errors.Is(err, records.ErrDimension) {
		t.Fatalf("QuerySimilar err = %v, want ErrDimension", err)
	}
}

func TestQuerySimilar(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vecs := map[string][]float32{
		"same":  {1, 0},
		"close": {0.99, 0.1},
		"far":   {0, 1},
		"anti":  {-1, 0},
	}

	tests := []struct {
		name        string
		maxDistance float64
		limit       int
		want        int
	}{
		{"no threshold counts up to limit", 0, 1000, 4},
		{"limit bounds count", 0, 2, 2},
		{"threshold keeps near neighbours", 0.05, 1000, 2},
		{"zero limit", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(2, tt.maxDistance)
			for id, v := range vecs {
				if err := s.Insert(ctx, testRecord(id, v)); err != nil {
					t.Fatalf("Insert: %v", err)
				}
			}
			got, err := s.QuerySimilar(ctx, []float32{1, 0}, tt.limit)
			if err != nil {
				t.Fatalf("QuerySimilar: %v", err)
			}
			if got != tt.want {
				t.Errorf("QuerySimilar = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New(2, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Insert(ctx, testRecord(string(rune('a'+i%26)), []float32{1, float32(i)}))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.QuerySimilar(ctx, []float32{1, 0}, 10)
		}()
	}
	wg.Wait()
	if s.Len() != 26 {
		t.Errorf("Len = %d, want 26", s.Len())
	}
}
