// Package tokens counts and truncates text in model tokens using the
// tiktoken BPE encodings. Encodings are loaded from the embedded offline
// loader, so no network access is needed at runtime.
package tokens

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var (
	loaderOnce sync.Once

	mu       sync.Mutex
	encoders = map[string]*Encoder{}
)

// Encoder wraps one BPE encoding. It is safe for concurrent use.
type Encoder struct {
	name string
	tk   *tiktoken.Tiktoken
}

// Get returns the named encoding (e.g. "cl100k_base"), loading it once.
func Get(name string) (*Encoder, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	mu.Lock()
	defer mu.Unlock()
	if e, ok := encoders[name]; ok {
		return e, nil
	}
	tk, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding %q: %w", name, err)
	}
	e := &Encoder{name: name, tk: tk}
	encoders[name] = e
	return e, nil
}

// Name is the encoding name.
func (e *Encoder) Name() string { return e.name }

// Count returns the number of tokens in s.
func (e *Encoder) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(e.tk.Encode(s, nil, nil))
}

// Truncate returns the longest prefix of s, cut on a rune boundary, that
// encodes to at most max tokens. Invalid UTF-8 in s is replaced with U+FFFD
// first, so the result is a prefix of strings.ToValidUTF8(s, "\uFFFD").
func (e *Encoder) Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, "\uFFFD")
	ids := e.tk.Encode(s, nil, nil)
	if len(ids) <= max {
		return s
	}

	// byte offset of the end of each token within s
	ends := make([]int, max)
	off := 0
	for i := range ends {
		off += len(e.tk.Decode(ids[i : i+1]))
		if off > len(s) {
			off = len(s)
		}
		ends[i] = off
	}

	for n := max; n > 0; n-- {
		prefix := trimPartialRune(s[:ends[n-1]])
		if e.Count(prefix) <= max {
			return prefix
		}
	}
	return ""
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence left behind by
// a token boundary that splits a multi-byte character.
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && s != ""; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
