// internal/triage/llm.go
package triage

import "context"

// Provider is the interface for any LLM backend. Implementations wrap
// credential failures in ErrAuth and everything else in ErrTransport.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-turn chat request.
type LLMRequest struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
}

// LLMResponse carries the generated text, the model that produced it and token usage.
type LLMResponse struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
