package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/sift/internal/records/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := ReqDBStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithSource_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithSource(context.Background(), "worker")
	if got := sourceFromContext(ctx); got != "worker" {
		t.Errorf("sourceFromContext = %q, want %q", got, "worker")
	}
	if got := sourceFromContext(WithSource(context.Background(), "")); got != "" {
		t.Errorf("sourceFromContext(empty) = %q, want empty", got)
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT 1", "SELECT"},
		{"\n\t insert INTO alert_records (id) VALUES ($1)", "INSERT"},
		{"-- similarity\nSELECT count(*) FROM x", "SELECT"},
		{"WITH nearest AS (SELECT 1) SELECT * FROM nearest", "WITH"},
		{"select(1)", "SELECT"},
		{"BEGIN;", "BEGIN"},
		{"-- only a comment", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			t.Parallel()
			if got := operationName(tt.sql); got != tt.want {
				t.Errorf("operationName(%q) = %q, want %q", tt.sql, got, tt.want)
			}
		})
	}
}

func TestRequestStats_LabelsSource(t *testing.T) {
	t.Parallel()

	var source string
	var stats bool
	h := RequestStats("api")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		source = sourceFromContext(r.Context())
		s, ok := ReqDBStatsFromContext(r.Context())
		stats = ok
		if ok {
			s.AddQuery(time.Millisecond, nil)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if source != "api" {
		t.Errorf("source = %q, want api", source)
	}
	if !stats {
		t.Error("handler context carries no query stats")
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	var gotSource, gotOp string
	obs := QueryObserverFunc(func(_ context.Context, source, op, _ string, _ time.Duration) {
		gotSource, gotOp = source, op
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "worker", "INSERT", "ok", time.Millisecond)
	if gotSource != "worker" || gotOp != "INSERT" {
		t.Errorf("observer got (%q, %q)", gotSource, gotOp)
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
