// Package openai implements triage.Provider for the OpenAI chat completions
// API and any service that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/sift/internal/triage"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-3.5-turbo-16k"

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string // empty for the public API
	Model   string
	HTTP    *http.Client
}

// Client sends single-turn chat completions.
type Client struct {
	client *oai.Client
	model  string
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	oc := oai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTP != nil {
		oc.HTTPClient = cfg.HTTP
	}
	return &Client{client: oai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

// Send implements triage.Provider.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		N:         1,
		Messages:  toChatMessages(req.System, req.Messages),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: response has no choices", triage.ErrTransport)
	}

	choice := resp.Choices[0]
	return &triage.LLMResponse{
		Text:       choice.Message.Content,
		Model:      resp.Model,
		StopReason: string(choice.FinishReason),
		Usage: triage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func toChatMessages(system string, msgs []triage.Message) []oai.ChatCompletionMessage {
	out := make([]oai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := oai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = oai.ChatMessageRoleAssistant
		}
		out = append(out, oai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func classifyError(err error) error {
	status := 0
	var apiErr *oai.APIError
	var reqErr *oai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: openai %d", triage.ErrAuth, status)
	case 0:
		return fmt.Errorf("%w: openai: %v", triage.ErrTransport, err)
	default:
		return fmt.Errorf("%w: openai %d: %v", triage.ErrTransport, status, err)
	}
}
