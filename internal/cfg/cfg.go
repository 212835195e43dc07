package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/prompt"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

const (
	defaultOpenAIModel = prompt.DefaultModel
	defaultClaudeModel = "claude-sonnet-4-20250514"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string

	QueuePath    string
	BatchSize    int
	PollInterval time.Duration
	Concurrency  int

	LLMProvider    string
	Model          string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ClaudeAPIKey   string
	ClaudeBaseURL  string
	ResponseTokens int
	TokenBudget    int
	RetryBudget    time.Duration

	EmbeddingModel        string
	EmbeddingDimension    int
	EmbeddingAPIKey       string
	EmbeddingBaseURL      string
	SimilarityLimit       int
	SimilarityMaxDistance float64

	DatabaseURL string

	ThreatWindsAPIKey    string
	ThreatWindsAPISecret string
	ThreatWindsEndpoint  string
	IntelFeedPath        string
	IntelCacheSize       int
	IntelCacheTTL        time.Duration

	NATSURL        string
	NATSSubject    string
	NATSQueueGroup string

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the API (empty = no auth)")

	fs.StringVar(&c.QueuePath, "queue-path", "sift-queue.db", "SQLite file holding the pending alert queue")
	fs.IntVar(&c.BatchSize, "batch-size", 20, "alerts taken from the queue per poll (1..1000)")
	fs.DurationVar(&c.PollInterval, "poll-interval", 10*time.Second, "sleep between polls when the queue is empty")
	fs.IntVar(&c.Concurrency, "concurrency", 1, "alerts processed in parallel within a batch (1..64)")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderOpenAI, "chat model provider (openai|claude)")
	fs.StringVar(&c.Model, "model", "", "chat model (empty = provider default)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI API")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = public API)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "Claude API base URL (empty = public API)")
	fs.IntVar(&c.ResponseTokens, "response-tokens", prompt.DefaultResponseTokens, "tokens reserved for the model's answer")
	fs.IntVar(&c.TokenBudget, "token-budget", 0, "total tokens per request including the answer (0 = model context window)")
	fs.DurationVar(&c.RetryBudget, "retry-budget", 3*time.Second, "wall-clock budget for re-asking after an unparseable answer")

	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-ada-002", "embedding model")
	fs.IntVar(&c.EmbeddingDimension, "embedding-dimension", 1536, "embedding vector width")
	fs.StringVar(&c.EmbeddingAPIKey, "embedding-api-key", "", "API key for embeddings (empty = openai-api-key)")
	fs.StringVar(&c.EmbeddingBaseURL, "embedding-base-url", "", "embeddings API base URL (empty = openai-base-url)")
	fs.IntVar(&c.SimilarityLimit, "similarity-limit", 1000, "nearest records considered when counting similar alerts")
	fs.Float64Var(&c.SimilarityMaxDistance, "similarity-max-distance", 0.15, "cosine distance under which a record counts as similar (0 = any)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.ThreatWindsAPIKey, "threatwinds-api-key", "", "ThreatWinds API key (empty = disabled)")
	fs.StringVar(&c.ThreatWindsAPISecret, "threatwinds-api-secret", "", "ThreatWinds API secret")
	fs.StringVar(&c.ThreatWindsEndpoint, "threatwinds-endpoint", "", "ThreatWinds entity search URL (empty = default)")
	fs.StringVar(&c.IntelFeedPath, "intel-feed-path", "", "YAML file of known-bad entities (empty = disabled)")
	fs.IntVar(&c.IntelCacheSize, "intel-cache-size", 4096, "threat-intel answers kept in memory (0 = no cache)")
	fs.DurationVar(&c.IntelCacheTTL, "intel-cache-ttl", time.Hour, "lifetime of a cached threat-intel answer")

	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for alert ingestion (empty = disabled)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "sift.alerts", "NATS subject carrying alerts")
	fs.StringVar(&c.NATSQueueGroup, "nats-queue-group", "sift", "NATS queue group shared by replicas")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for incident notifications")
}

// ResolvedModel returns Model, or the provider default when unset.
func (c *Config) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	if c.LLMProvider == ProviderClaude {
		return defaultClaudeModel
	}
	return defaultOpenAIModel
}

// ResolvedEmbeddingKey returns the key used for embeddings.
func (c *Config) ResolvedEmbeddingKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.OpenAIAPIKey
}

// ResolvedEmbeddingBaseURL returns the base URL used for embeddings.
func (c *Config) ResolvedEmbeddingBaseURL() string {
	if c.EmbeddingBaseURL != "" {
		return c.EmbeddingBaseURL
	}
	return c.OpenAIBaseURL
}

// Tokens splits APITokens, dropping blanks.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Queue and worker
	if strings.TrimSpace(c.QueuePath) == "" {
		errs = append(errs, errors.New("QUEUE_PATH is required"))
	}
	if c.BatchSize <= 0 || c.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("invalid BATCH_SIZE %d (must be 1..1000)", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL %s (must be positive)", c.PollInterval))
	}
	if c.Concurrency <= 0 || c.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..64)", c.Concurrency))
	}

	// Chat model
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be %s or %s)", c.LLMProvider, ProviderOpenAI, ProviderClaude))
	}
	spec, err := prompt.Lookup(c.ResolvedModel())
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid MODEL: %w (supported: %s)", err, strings.Join(prompt.Models(), ", ")))
	}
	if c.ResponseTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid RESPONSE_TOKENS %d (must be positive)", c.ResponseTokens))
	}
	if c.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("invalid TOKEN_BUDGET %d (must be >= 0)", c.TokenBudget))
	}
	if err == nil && c.ResponseTokens >= spec.ContextWindow {
		errs = append(errs, fmt.Errorf("RESPONSE_TOKENS %d must be below the %d token context window", c.ResponseTokens, spec.ContextWindow))
	}
	if c.RetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRY_BUDGET %s (must be positive)", c.RetryBudget))
	}

	// Embeddings and similarity
	if c.ResolvedEmbeddingKey() == "" {
		errs = append(errs, errors.New("EMBEDDING_API_KEY or OPENAI_API_KEY is required for embeddings"))
	}
	if c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EMBEDDING_MODEL is required"))
	}
	if c.EmbeddingDimension <= 0 || c.EmbeddingDimension > 16000 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIMENSION %d (must be 1..16000)", c.EmbeddingDimension))
	}
	if c.SimilarityLimit <= 0 {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_LIMIT %d (must be positive)", c.SimilarityLimit))
	}
	if c.SimilarityMaxDistance < 0 || c.SimilarityMaxDistance > 2 {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_MAX_DISTANCE %g (must be 0..2)", c.SimilarityMaxDistance))
	}

	// Threat intel: key and secret travel together
	if (c.ThreatWindsAPIKey == "") != (c.ThreatWindsAPISecret == "") {
		errs = append(errs, errors.New("THREATWINDS_API_KEY and THREATWINDS_API_SECRET must be set together"))
	}
	if c.IntelCacheSize < 0 {
		errs = append(errs, fmt.Errorf("invalid INTEL_CACHE_SIZE %d (must be >= 0)", c.IntelCacheSize))
	}
	if c.IntelCacheSize > 0 && c.IntelCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid INTEL_CACHE_TTL %s (must be positive)", c.IntelCacheTTL))
	}

	// NATS is optional but needs a subject when enabled
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("NATS_SUBJECT is required when NATS_URL is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
