// Package feed is an intel.Provider over a static YAML indicator list, for
// air-gapped deployments and for seeding known-bad entities ahead of a
// remote source.
//
// File format:
//
//	entries:
//	  - type: ip
//	    value: 203.0.113.9
//	    reputation: Critical
//	    last_seen: 2024-05-01T10:00:00Z
//	    tags: [botnet]
package feed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/sift/internal/intel"
	"github.com/linnemanlabs/sift/internal/redact"
)

type entry struct {
	Type       string    `yaml:"type"`
	Value      string    `yaml:"value"`
	Reputation string    `yaml:"reputation"`
	LastSeen   time.Time `yaml:"last_seen"`
	Tags       []string  `yaml:"tags"`
}

type document struct {
	Entries []entry `yaml:"entries"`
}

// Feed is an immutable in-memory indicator table.
type Feed struct {
	entries map[string]intel.Finding
}

// Load reads and parses a feed file.
func Load(path string) (*Feed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Feed from YAML.
func Parse(data []byte) (*Feed, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse: %w", err)
	}

	f := &Feed{entries: make(map[string]intel.Finding, len(doc.Entries))}
	for i, e := range doc.Entries {
		cat := redact.Category(strings.ToLower(strings.TrimSpace(e.Type)))
		switch cat {
		case redact.Domain, redact.IP, redact.Email:
		default:
			return nil, fmt.Errorf("feed: entry %d: unknown type %q", i, e.Type)
		}
		if e.Value == "" {
			return nil, fmt.Errorf("feed: entry %d: empty value", i)
		}
		if e.Reputation == "" {
			return nil, fmt.Errorf("feed: entry %d: empty reputation", i)
		}
		f.entries[key(cat, e.Value)] = intel.Finding{
			Type:       cat,
			Value:      e.Value,
			Reputation: e.Reputation,
			LastSeen:   e.LastSeen,
			Tags:       e.Tags,
		}
	}
	return f, nil
}

// Len is the number of indicators.
func (f *Feed) Len() int { return len(f.entries) }

// Check implements intel.Provider.
func (f *Feed) Check(_ context.Context, cat redact.Category, value string) (*intel.Finding, error) {
	e, ok := f.entries[key(cat, value)]
	if !ok {
		return nil, nil
	}
	out := e
	out.Tags = append([]string(nil), e.Tags...)
	return &out, nil
}

func key(cat redact.Category, value string) string {
	// hostnames and mailboxes compare case-insensitively
	return string(cat) + "\x00" + strings.ToLower(value)
}
