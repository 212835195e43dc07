// Package prompt assembles the system and user messages sent to the model,
// keeping the whole request inside the model's token budget.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/sift/internal/intel"
	"github.com/linnemanlabs/sift/internal/tokens"
)

var (
	// ErrUnsupportedModel is returned for a model with no accounting spec.
	ErrUnsupportedModel = errors.New("prompt: unsupported model")

	// ErrBudgetExhausted means the fixed parts of the prompt alone exceed the
	// token budget, so no amount of alert truncation can help.
	ErrBudgetExhausted = errors.New("prompt: token budget exhausted")
)

// Instruction is the system message.
const Instruction = `You are an expert security engineer. You will analyze a security alert or log produced by a device or application. Explain what the event means in terms of risk to the affected systems and what you understand to be happening.

Classify the event as "possible-incident" if it should be treated as an incident, as "possible-false-positive" if the alert is a false positive, or as "standard-alert" if it poses no risk to the organization and needs no urgent action from an administrator. Then give the next steps for remediation or prevention, or to stop an imminent or ongoing incident.

Some hostnames, IP addresses and email addresses have been replaced with placeholders. Refer to them exactly as written.

Answer with a single JSON object in the following format and nothing else:

{"classification":"<classification>","reasoning":["<reasoning_point_1>","<reasoning_point_2>"],"next_steps":[{"step":1,"action":"<action_1>","details":"<action_1_details>"},{"step":2,"action":"<action_2>","details":"<action_2_details>"}]}`

const (
	roleSystem = "system"
	roleUser   = "user"
)

// Prompt is a ready-to-send pair of messages.
type Prompt struct {
	System string
	User   string

	// Tokens is the message token count, excluding the response reserve.
	Tokens int

	// Truncated reports whether the alert text was cut to fit.
	Truncated bool
}

// Builder builds prompts for one model.
type Builder struct {
	spec           ModelSpec
	enc            *tokens.Encoder
	responseTokens int
}

// NewBuilder returns a Builder for model, reserving responseTokens for the
// answer. A non-positive responseTokens uses DefaultResponseTokens.
func NewBuilder(model string, responseTokens int) (*Builder, error) {
	spec, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	enc, err := tokens.Get(spec.Encoding)
	if err != nil {
		return nil, err
	}
	if responseTokens <= 0 {
		responseTokens = DefaultResponseTokens
	}
	return &Builder{spec: spec, enc: enc, responseTokens: responseTokens}, nil
}

// ResponseTokens returns the tokens reserved for the answer.
func (b *Builder) ResponseTokens() int { return b.responseTokens }

// ContextWindow returns the model's total token limit.
func (b *Builder) ContextWindow() int { return b.spec.ContextWindow }

// MessagesTokens counts a system plus user message exchange the way the
// chat API bills it.
func (b *Builder) MessagesTokens(system, user string) int {
	n := 0
	for _, m := range [][2]string{{roleSystem, system}, {roleUser, user}} {
		n += b.spec.TokensPerMessage + b.enc.Count(m[0]) + b.enc.Count(m[1])
	}
	return n + b.spec.TokensPerReply
}

// Build assembles the prompt for alert. findings are embedded verbatim as
// JSON; a negative similar means the count is unknown. budget is the total
// token limit including the response reserve; zero or less uses the model's
// context window. Only the tail of the alert text is ever dropped. Invalid
// UTF-8 in alert is replaced with U+FFFD.
func (b *Builder) Build(alert string, findings []intel.Finding, similar int, budget int) (*Prompt, error) {
	alert = strings.ToValidUTF8(alert, "\uFFFD")
	if budget <= 0 || budget > b.spec.ContextWindow {
		budget = b.spec.ContextWindow
	}

	header, err := userHeader(findings, similar)
	if err != nil {
		return nil, err
	}

	fixed := b.MessagesTokens(Instruction, header) + b.responseTokens
	if fixed > budget {
		return nil, fmt.Errorf("%w: %d fixed tokens, budget %d", ErrBudgetExhausted, fixed, budget)
	}

	kept := alert
	for room := budget - fixed; ; {
		kept = b.enc.Truncate(alert, room)
		total := b.MessagesTokens(Instruction, header+kept) + b.responseTokens
		if total <= budget || room <= 0 {
			break
		}
		// token merges at the seam can cost a little more than the parts
		room -= total - budget
	}

	user := header + kept
	return &Prompt{
		System:    Instruction,
		User:      user,
		Tokens:    b.MessagesTokens(Instruction, user),
		Truncated: len(kept) < len(alert),
	}, nil
}

// AlertText returns the alert portion of a user message built by Build.
func AlertText(user string) string {
	_, after, ok := strings.Cut(user, alertHeading)
	if !ok {
		return ""
	}
	return after
}

const alertHeading = "Log or Alert Information:\n"

func userHeader(findings []intel.Finding, similar int) (string, error) {
	var sb strings.Builder
	if len(findings) > 0 {
		raw, err := json.Marshal(findings)
		if err != nil {
			return "", fmt.Errorf("encode findings: %w", err)
		}
		sb.WriteString("The obtained results from querying the threat intelligence platform for IP addresses, domains, and email information are presented in JSON format as follows: ")
		sb.Write(raw)
		sb.WriteString("\n")
	}
	if similar < 0 {
		sb.WriteString("The number of similar records in the past could not be determined.\n")
	} else {
		fmt.Fprintf(&sb, "There were %d similar records in the past.\n", similar)
	}
	sb.WriteString(alertHeading)
	return sb.String(), nil
}
