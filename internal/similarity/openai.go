package similarity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/sift/internal/tokens"
)

const (
	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = string(openai.AdaEmbeddingV2)

	// DefaultDimension is the vector width of DefaultEmbeddingModel.
	DefaultDimension = 1536

	// maxInputTokens is the input limit of the ada-002 family.
	maxInputTokens = 8191
)

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // empty for the public API
	Model     string
	Dimension int
	HTTP      *http.Client
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
	enc    *tokens.Encoder
}

// NewOpenAIEmbedder builds an embedder from cfg, applying defaults for
// empty fields.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("similarity: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	enc, err := tokens.Get("cl100k_base")
	if err != nil {
		return nil, err
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTP != nil {
		oc.HTTPClient = cfg.HTTP
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		model:  openai.EmbeddingModel(cfg.Model),
		dim:    cfg.Dimension,
		enc:    enc,
	}, nil
}

// Embed returns the embedding of text, truncated to the model's input limit.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = e.enc.Truncate(text, maxInputTokens)
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		if statusCode(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(vec), e.dim)
	}
	return vec, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
