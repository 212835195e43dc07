package prompt

import (
	"fmt"
	"sort"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-3.5-turbo-16k"

// DefaultResponseTokens is reserved for the model's answer.
const DefaultResponseTokens = 500

// ModelSpec describes how a chat model counts tokens.
type ModelSpec struct {
	// Encoding is the tiktoken encoding name.
	Encoding string

	// TokensPerMessage is the framing overhead of each chat message.
	TokensPerMessage int

	// TokensPerReply primes the assistant reply.
	TokensPerReply int

	// ContextWindow is the model's total token limit.
	ContextWindow int
}

// Claude models have no public tokenizer; cl100k_base is close enough for
// budgeting against a 200k window.
var models = map[string]ModelSpec{
	"gpt-3.5-turbo-16k": {Encoding: "cl100k_base", TokensPerMessage: 4, TokensPerReply: 3, ContextWindow: 16384},
	"gpt-3.5-turbo":     {Encoding: "cl100k_base", TokensPerMessage: 4, TokensPerReply: 3, ContextWindow: 16384},
	"gpt-4-0314":        {Encoding: "cl100k_base", TokensPerMessage: 3, TokensPerReply: 3, ContextWindow: 8192},
	"gpt-4":             {Encoding: "cl100k_base", TokensPerMessage: 3, TokensPerReply: 3, ContextWindow: 8192},
	"gpt-4-turbo":       {Encoding: "cl100k_base", TokensPerMessage: 3, TokensPerReply: 3, ContextWindow: 128000},

	"claude-sonnet-4-20250514": {Encoding: "cl100k_base", TokensPerMessage: 3, TokensPerReply: 3, ContextWindow: 200000},
	"claude-3-5-haiku-latest":  {Encoding: "cl100k_base", TokensPerMessage: 3, TokensPerReply: 3, ContextWindow: 200000},
}

// Lookup returns the accounting spec for model.
func Lookup(model string) (ModelSpec, error) {
	spec, ok := models[model]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	return spec, nil
}

// Models lists the supported model ids in sorted order.
func Models() []string {
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
