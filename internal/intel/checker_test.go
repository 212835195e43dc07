package intel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/redact"
)

// mockProvider answers from a fixed table and counts calls.
type mockProvider struct {
	mu       sync.Mutex
	findings map[string]*Finding
	errs     map[string]error
	calls    int
}

func (m *mockProvider) Check(_ context.Context, c redact.Category, value string) (*Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.errs[value]; ok {
		return nil, err
	}
	return m.findings[value], nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestChecker_AbsentYieldsNoFindings(t *testing.T) {
	t.Parallel()

	p := &mockProvider{}
	c := NewChecker(p, log.Nop(), Options{})

	got := c.Check(context.Background(), redact.Bundle{
		Domains: []string{"a.com"},
		IPs:     []string{"1.2.3.4"},
		Emails:  []string{"x@a.com"},
	})
	if len(got) != 0 {
		t.Fatalf("findings = %+v, want none", got)
	}
	if p.callCount() != 3 {
		t.Errorf("calls = %d, want 3", p.callCount())
	}
}

func TestChecker_FindingsInBundleOrder(t *testing.T) {
	t.Parallel()

	p := &mockProvider{findings: map[string]*Finding{
		"x@a.com": {Type: redact.Email, Value: "x@a.com", Reputation: "Bad"},
		"a.com":   {Type: redact.Domain, Value: "a.com", Reputation: "Poor"},
	}}
	c := NewChecker(p, nil, Options{})

	got := c.Check(context.Background(), redact.Bundle{
		Domains: []string{"a.com"},
		Emails:  []string{"x@a.com"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Value != "a.com" || got[1].Value != "x@a.com" {
		t.Errorf("order = %q, %q", got[0].Value, got[1].Value)
	}
}

func TestChecker_ErrorIsLoggedNotPropagated(t *testing.T) {
	t.Parallel()

	p := &mockProvider{
		errs:     map[string]error{"1.2.3.4": errors.New("connection refused")},
		findings: map[string]*Finding{"5.6.7.8": {Type: redact.IP, Value: "5.6.7.8", Reputation: "Critical"}},
	}

	var mu sync.Mutex
	outcomes := map[string]int{}
	c := NewChecker(p, log.Nop(), Options{Hooks: Hooks{
		OnLookup: func(_ redact.Category, outcome string, _ time.Duration) {
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		},
	}})

	got := c.Check(context.Background(), redact.Bundle{IPs: []string{"1.2.3.4", "5.6.7.8"}})
	if len(got) != 1 || got[0].Value != "5.6.7.8" {
		t.Fatalf("findings = %+v", got)
	}
	if outcomes[OutcomeError] != 1 || outcomes[OutcomeFound] != 1 {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestChecker_CachesAnswersIncludingAbsent(t *testing.T) {
	t.Parallel()

	p := &mockProvider{findings: map[string]*Finding{
		"bad.com": {Type: redact.Domain, Value: "bad.com", Reputation: "Bad"},
	}}
	hits := 0
	c := NewChecker(p, log.Nop(), Options{
		CacheSize: 16,
		CacheTTL:  time.Minute,
		Hooks:     Hooks{OnCacheHit: func(redact.Category) { hits++ }},
	})

	b := redact.Bundle{Domains: []string{"bad.com", "fine.com"}}
	first := c.Check(context.Background(), b)
	second := c.Check(context.Background(), b)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("first=%v second=%v", first, second)
	}
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 (second pass cached)", p.callCount())
	}
	if hits != 2 {
		t.Errorf("cache hits = %d, want 2", hits)
	}
}

func TestChecker_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	p := &mockProvider{errs: map[string]error{"a.com": errors.New("timeout")}}
	c := NewChecker(p, log.Nop(), Options{CacheSize: 16, CacheTTL: time.Minute})

	b := redact.Bundle{Domains: []string{"a.com"}}
	c.Check(context.Background(), b)
	c.Check(context.Background(), b)
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.callCount())
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	found := &Finding{Type: redact.IP, Value: "1.1.1.1", Reputation: "Good"}
	failing := ProviderFunc(func(context.Context, redact.Category, string) (*Finding, error) {
		return nil, errors.New("down")
	})
	absent := ProviderFunc(func(context.Context, redact.Category, string) (*Finding, error) {
		return nil, nil
	})
	hit := ProviderFunc(func(context.Context, redact.Category, string) (*Finding, error) {
		return found, nil
	})

	tests := []struct {
		name    string
		chain   Chain
		want    *Finding
		wantErr bool
	}{
		{"first hit wins", Chain{absent, hit}, found, false},
		{"error then hit", Chain{failing, hit}, found, false},
		{"all absent", Chain{absent, absent}, nil, false},
		{"error and absent", Chain{failing, absent}, nil, true},
		{"empty", Chain{}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.chain.Check(context.Background(), redact.IP, "1.1.1.1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("finding = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetricsHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()

	h.OnLookup(redact.IP, OutcomeFound, 10*time.Millisecond)
	h.OnLookup(redact.IP, OutcomeFound, 20*time.Millisecond)
	h.OnCacheHit(redact.Domain)

	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues("ip", OutcomeFound)); got != 2 {
		t.Errorf("lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("domain")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}
