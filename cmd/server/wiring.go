package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/sift/internal/cfg"
	"github.com/linnemanlabs/sift/internal/intel"
	"github.com/linnemanlabs/sift/internal/intel/feed"
	"github.com/linnemanlabs/sift/internal/intel/threatwinds"
	"github.com/linnemanlabs/sift/internal/llm/claude"
	"github.com/linnemanlabs/sift/internal/llm/openai"
	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	llmTimeout       = 120 * time.Second
	embeddingTimeout = 30 * time.Second
)

// outboundClient returns an HTTP client whose requests join the caller's trace.
func outboundClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// newProvider builds the chat provider selected by c.
func newProvider(c *vc.Config) (triage.Provider, error) {
	switch c.LLMProvider {
	case vc.ProviderClaude:
		return claude.New(claude.Config{
			APIKey:  c.ClaudeAPIKey,
			BaseURL: c.ClaudeBaseURL,
			Model:   c.ResolvedModel(),
			Timeout: llmTimeout,
			HTTP:    outboundClient(llmTimeout),
		})
	case vc.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:  c.OpenAIAPIKey,
			BaseURL: c.OpenAIBaseURL,
			Model:   c.ResolvedModel(),
			HTTP:    outboundClient(llmTimeout),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.LLMProvider)
	}
}

// newIntel chains the configured threat-intel sources, local feed first.
// With no source configured every lookup is absent.
func newIntel(c *vc.Config, logger log.Logger, hooks intel.Hooks) (*intel.Checker, []string, error) {
	var (
		chain   intel.Chain
		sources []string
	)
	if c.IntelFeedPath != "" {
		f, err := feed.Load(c.IntelFeedPath)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, f)
		sources = append(sources, fmt.Sprintf("feed(%d)", f.Len()))
	}
	if c.ThreatWindsAPIKey != "" {
		chain = append(chain, threatwinds.New(c.ThreatWindsEndpoint, c.ThreatWindsAPIKey, c.ThreatWindsAPISecret))
		sources = append(sources, "threatwinds")
	}
	checker := intel.NewChecker(chain, logger, intel.Options{
		CacheSize: c.IntelCacheSize,
		CacheTTL:  c.IntelCacheTTL,
		Hooks:     hooks,
	})
	return checker, sources, nil
}

// queueDepth exposes the number of pending alerts as a gauge.
func queueDepth(reg prometheus.Registerer, length func(context.Context) (int, error)) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sift_queue_depth",
		Help: "Alerts waiting in the durable queue.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := length(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}
