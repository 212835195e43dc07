// Package redact removes sensitive entities from alert text before it leaves
// the process and puts them back into the model's answer afterwards.
//
// Each distinct entity is swapped for a placeholder of the same shape
// (hostname, address, mailbox) drawn from documentation-reserved ranges.
// Placeholders never occur in the source text, never contain or sit inside
// any real value or other placeholder, so a literal substitution in either
// direction is unambiguous.
package redact

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrPlaceholderSpace is returned when no collision-free placeholder could be
// generated for a value.
var ErrPlaceholderSpace = errors.New("redact: no collision-free placeholder available")

const defaultMaxAttempts = 64

var testNets = [...]string{"192.0.2", "198.51.100", "203.0.113"}

// Pair is one real value and the placeholder that stands in for it.
type Pair struct {
	Category    Category
	Real        string
	Placeholder string
}

// Map is the reversible substitution table for one alert. It is immutable.
type Map struct {
	pairs   []Pair
	forward *strings.Replacer
	reverse *strings.Replacer
}

func newMap(pairs []Pair) *Map {
	// longest first so that, at any position, the longest match wins
	byReal := make([]Pair, len(pairs))
	copy(byReal, pairs)
	sort.SliceStable(byReal, func(i, j int) bool { return len(byReal[i].Real) > len(byReal[j].Real) })
	fwd := make([]string, 0, 2*len(pairs))
	for _, p := range byReal {
		fwd = append(fwd, p.Real, p.Placeholder)
	}

	byPh := make([]Pair, len(pairs))
	copy(byPh, pairs)
	sort.SliceStable(byPh, func(i, j int) bool { return len(byPh[i].Placeholder) > len(byPh[j].Placeholder) })
	rev := make([]string, 0, 2*len(pairs))
	for _, p := range byPh {
		rev = append(rev, p.Placeholder, p.Real)
	}

	return &Map{
		pairs:   pairs,
		forward: strings.NewReplacer(fwd...),
		reverse: strings.NewReplacer(rev...),
	}
}

// Apply replaces real values with their placeholders.
func (m *Map) Apply(s string) string {
	if m == nil || len(m.pairs) == 0 {
		return s
	}
	return m.forward.Replace(s)
}

// Restore replaces placeholders with the real values they stand for.
func (m *Map) Restore(s string) string {
	if m == nil || len(m.pairs) == 0 {
		return s
	}
	return m.reverse.Replace(s)
}

// Len is the number of substituted values.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

// Option configures a Redactor.
type Option func(*Redactor)

// WithRand sets the randomness source for placeholders.
func WithRand(r io.Reader) Option {
	return func(rd *Redactor) { rd.rand = r }
}

// WithMaxAttempts bounds placeholder generation retries per value.
func WithMaxAttempts(n int) Option {
	return func(rd *Redactor) {
		if n > 0 {
			rd.maxAttempts = n
		}
	}
}

// Redactor builds redaction maps. It is safe for concurrent use when its
// randomness source is.
type Redactor struct {
	rand        io.Reader
	maxAttempts int
}

// New returns a Redactor drawing placeholders from crypto/rand by default.
func New(opts ...Option) *Redactor {
	r := &Redactor{rand: rand.Reader, maxAttempts: defaultMaxAttempts}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Redact substitutes every occurrence of every entity in b and returns the
// redacted text together with the map that reverses it.
func (r *Redactor) Redact(text string, b Bundle) (string, *Map, error) {
	var (
		pairs []Pair
		used  []string
	)
	for _, c := range Categories {
		for _, v := range b.Values(c) {
			used = append(used, v)
		}
	}

	for _, c := range Categories {
		for _, v := range b.Values(c) {
			ph, err := r.placeholder(c, v, text, used)
			if err != nil {
				return "", nil, fmt.Errorf("%s %q: %w", c, v, err)
			}
			used = append(used, ph)
			pairs = append(pairs, Pair{Category: c, Real: v, Placeholder: ph})
		}
	}

	m := newMap(pairs)
	return m.Apply(text), m, nil
}

func (r *Redactor) placeholder(c Category, real, text string, used []string) (string, error) {
	for range r.maxAttempts {
		ph, err := r.candidate(c, real)
		if err != nil {
			return "", err
		}
		if collides(ph, text, used) {
			continue
		}
		return ph, nil
	}
	return "", ErrPlaceholderSpace
}

func collides(ph, text string, used []string) bool {
	if strings.Contains(text, ph) {
		return true
	}
	for _, u := range used {
		if strings.Contains(u, ph) || strings.Contains(ph, u) {
			return true
		}
	}
	return false
}

func (r *Redactor) candidate(c Category, real string) (string, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.rand, buf[:]); err != nil {
		return "", fmt.Errorf("redact: read random: %w", err)
	}
	switch c {
	case Domain:
		return "host-" + hex.EncodeToString(buf[:4]) + ".example", nil
	case IP:
		if !strings.Contains(real, ":") {
			return fmt.Sprintf("%s.%d", testNets[int(buf[1])%len(testNets)], 1+int(buf[2])%254), nil
		}
		return fmt.Sprintf("2001:db8:%x:%x::%x",
			binary.BigEndian.Uint16(buf[2:4]), binary.BigEndian.Uint16(buf[4:6]), 1+int(binary.BigEndian.Uint16(buf[6:8]))%0xfffe), nil
	case Email:
		return "user-" + hex.EncodeToString(buf[:4]) + "@mail-" + hex.EncodeToString(buf[4:]) + ".example", nil
	}
	return "", fmt.Errorf("redact: unknown category %q", c)
}
