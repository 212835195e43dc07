package intel

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/redact"
)

// Lookup outcomes reported to hooks.
const (
	OutcomeFound  = "found"
	OutcomeAbsent = "absent"
	OutcomeError  = "error"
)

// Hooks receives lookup events. Nil funcs are skipped.
type Hooks struct {
	OnLookup   func(c redact.Category, outcome string, dur time.Duration)
	OnCacheHit func(c redact.Category)
}

// Options configures a Checker.
type Options struct {
	// CacheSize bounds the number of cached answers. Zero disables caching.
	CacheSize int
	// CacheTTL is how long an answer, including "absent", stays cached.
	CacheTTL time.Duration
	Hooks    Hooks
}

type cacheEntry struct {
	finding *Finding
}

// Checker resolves every entity in a bundle against a Provider.
type Checker struct {
	provider Provider
	cache    *expirable.LRU[string, cacheEntry]
	logger   log.Logger
	hooks    Hooks
}

// NewChecker returns a Checker over p.
func NewChecker(p Provider, logger log.Logger, opts Options) *Checker {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Checker{
		provider: p,
		logger:   logger.With("component", "intel"),
		hooks:    opts.Hooks,
	}
	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, cacheEntry](opts.CacheSize, nil, opts.CacheTTL)
	}
	return c
}

// Check looks up every entity and returns the findings in bundle order.
// Failures are logged and yield no finding.
func (c *Checker) Check(ctx context.Context, b redact.Bundle) []Finding {
	var out []Finding
	for _, cat := range redact.Categories {
		for _, v := range b.Values(cat) {
			if f := c.lookup(ctx, cat, v); f != nil {
				out = append(out, *f)
			}
		}
	}
	return out
}

func (c *Checker) lookup(ctx context.Context, cat redact.Category, value string) *Finding {
	key := string(cat) + "\x00" + value
	if c.cache != nil {
		if e, ok := c.cache.Get(key); ok {
			if c.hooks.OnCacheHit != nil {
				c.hooks.OnCacheHit(cat)
			}
			return e.finding
		}
	}

	start := time.Now()
	f, err := c.provider.Check(ctx, cat, value)
	dur := time.Since(start)
	if err != nil {
		c.observe(cat, OutcomeError, dur)
		c.logger.Warn(ctx, "threat intel lookup failed", "type", cat, "error", err)
		return nil
	}

	if f != nil {
		c.observe(cat, OutcomeFound, dur)
	} else {
		c.observe(cat, OutcomeAbsent, dur)
	}
	if c.cache != nil {
		c.cache.Add(key, cacheEntry{finding: f})
	}
	return f
}

func (c *Checker) observe(cat redact.Category, outcome string, dur time.Duration) {
	if c.hooks.OnLookup != nil {
		c.hooks.OnLookup(cat, outcome, dur)
	}
}
