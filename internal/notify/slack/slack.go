// Package slack sends incident notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/sift/internal/records"
	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	maxAlertLen   = 2500
	maxSectionLen = 3000
	maxEntities   = 10
	httpTimeout   = 10 * time.Second
)

// Notifier sends processed records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     logger.With("component", "slack"),
	}
}

// Send posts a record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, r *records.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "notification sent", "record_id", r.ID, "evaluation", r.Evaluation)
	return nil
}

func buildMessage(r *records.Record) map[string]any {
	v := &triage.Verdict{
		Classification: triage.Classification(r.Evaluation),
		Reasoning:      r.Reasoning,
		NextSteps:      r.NextSteps,
	}
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(v.Classification),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			alertBlock(r),
			reasoningBlock(v),
			stepsBlock(v),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(c triage.Classification) map[string]any {
	text := fmt.Sprintf("%s %s", classificationEmoji(c), title(c))
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *records.Record) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Evaluation:* %s", r.Evaluation),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Model:* %s", shortModel(r.Model)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*IPs:* %s", entities(r.IPs)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Domains:* %s", entities(r.Domains)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Emails:* %s", entities(r.Emails)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func alertBlock(r *records.Record) map[string]any {
	return section(fmt.Sprintf("*Alert*\n```%s```", truncate(r.AlertBody, maxAlertLen)))
}

func reasoningBlock(v *triage.Verdict) map[string]any {
	points := v.ReasoningPoints()
	if len(points) == 0 {
		return section("*Reasoning*\n\n_No reasoning provided._")
	}
	var sb strings.Builder
	for _, p := range points {
		sb.WriteString("• ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return section("*Reasoning*\n\n" + truncate(sb.String(), maxSectionLen))
}

func stepsBlock(v *triage.Verdict) map[string]any {
	steps := v.Steps()
	if len(steps) == 0 {
		return section("*Next steps*\n\n_No next steps provided._")
	}
	var sb strings.Builder
	for i, s := range steps {
		n := s.Step
		if n == 0 {
			n = i + 1
		}
		fmt.Fprintf(&sb, "%d. *%s*", n, s.Action)
		if s.Details != "" {
			fmt.Fprintf(&sb, ": %s", s.Details)
		}
		sb.WriteString("\n")
	}
	return section("*Next steps*\n\n" + truncate(sb.String(), maxSectionLen))
}

func contextBlock(r *records.Record) map[string]any {
	ts := r.ProcessedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sift • record %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func title(c triage.Classification) string {
	switch c {
	case triage.PossibleIncident:
		return "Possible incident"
	case triage.PossibleFalsePositive:
		return "Possible false positive"
	case triage.StandardAlert:
		return "Standard alert"
	default:
		return "Alert evaluated"
	}
}

func classificationEmoji(c triage.Classification) string {
	switch c {
	case triage.PossibleIncident:
		return "\U0001f534" // red circle
	case triage.StandardAlert:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func entities(vs []string) string {
	if len(vs) == 0 {
		return "-"
	}
	if len(vs) > maxEntities {
		return fmt.Sprintf("%s (+%d more)", strings.Join(vs[:maxEntities], ", "), len(vs)-maxEntities)
	}
	return strings.Join(vs, ", ")
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit-3], "") + "..."
}
