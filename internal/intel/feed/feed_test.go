package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/sift/internal/redact"
)

const sampleFeed = `
entries:
  - type: ip
    value: 203.0.113.9
    reputation: Critical
    last_seen: 2024-05-01T10:00:00Z
    tags: [botnet, c2]
  - type: Domain
    value: Evil.Example.NET
    reputation: Bad
  - type: email
    value: phish@evil.example.net
    reputation: Poor
`

func TestParseAndCheck(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}

	ctx := context.Background()

	got, err := f.Check(ctx, redact.IP, "203.0.113.9")
	if err != nil || got == nil {
		t.Fatalf("Check ip = %v, %v", got, err)
	}
	if got.Reputation != "Critical" || len(got.Tags) != 2 || got.LastSeen.IsZero() {
		t.Errorf("ip finding = %+v", got)
	}

	got, _ = f.Check(ctx, redact.Domain, "evil.example.net")
	if got == nil || got.Reputation != "Bad" {
		t.Errorf("case-insensitive domain lookup = %+v", got)
	}

	got, _ = f.Check(ctx, redact.IP, "198.51.100.1")
	if got != nil {
		t.Errorf("unknown ip = %+v, want nil", got)
	}

	// category is part of the key
	got, _ = f.Check(ctx, redact.Email, "203.0.113.9")
	if got != nil {
		t.Errorf("wrong category matched: %+v", got)
	}
}

func TestCheck_ReturnsCopy(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, _ := f.Check(context.Background(), redact.IP, "203.0.113.9")
	a.Tags[0] = "mutated"
	b, _ := f.Check(context.Background(), redact.IP, "203.0.113.9")
	if b.Tags[0] != "botnet" {
		t.Errorf("feed was mutated through a returned finding: %v", b.Tags)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "entries: [::"},
		{"unknown type", "entries:\n  - type: url\n    value: x\n    reputation: Bad\n"},
		{"empty value", "entries:\n  - type: ip\n    reputation: Bad\n"},
		{"empty reputation", "entries:\n  - type: ip\n    value: 1.2.3.4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.yaml")
	if err := os.WriteFile(path, []byte(sampleFeed), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Len() != 3 {
		t.Errorf("Len = %d, want 3", f.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
