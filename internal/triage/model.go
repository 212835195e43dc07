package triage

import (
	"encoding/json"
	"strings"
)

// Classification is the model's judgement of an alert.
type Classification string

const (
	// PossibleIncident means the alert should be handled as an incident.
	PossibleIncident Classification = "possible-incident"

	// PossibleFalsePositive means the alert is likely noise.
	PossibleFalsePositive Classification = "possible-false-positive"

	// StandardAlert means no urgent action is required.
	StandardAlert Classification = "standard-alert"
)

// Classifications lists every valid classification.
var Classifications = []Classification{PossibleIncident, PossibleFalsePositive, StandardAlert}

// NormalizeClassification lowercases c and turns spaces and underscores
// into hyphens, so "Possible Incident" and "possible_incident" both map to
// PossibleIncident.
func NormalizeClassification(c string) Classification {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.NewReplacer(" ", "-", "_", "-").Replace(c)
	return Classification(c)
}

// Verdict is the structured answer. Reasoning and NextSteps are kept as the
// model wrote them.
type Verdict struct {
	Classification Classification  `json:"classification"`
	Reasoning      json.RawMessage `json:"reasoning"`
	NextSteps      json.RawMessage `json:"next_steps"`
}

// NextStep is one remediation step in Verdict.NextSteps.
type NextStep struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

// Steps decodes NextSteps. Entries that do not match NextStep are skipped.
func (v *Verdict) Steps() []NextStep {
	var raw []json.RawMessage
	if err := json.Unmarshal(v.NextSteps, &raw); err != nil {
		return nil
	}
	out := make([]NextStep, 0, len(raw))
	for _, r := range raw {
		var s NextStep
		if err := json.Unmarshal(r, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ReasoningPoints decodes Reasoning as a list of strings. Non-string entries
// are rendered as JSON.
func (v *Verdict) ReasoningPoints() []string {
	var raw []json.RawMessage
	if err := json.Unmarshal(v.Reasoning, &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(r))
	}
	return out
}

// Answer is the outcome of Engine.Ask.
type Answer struct {
	Verdict  *Verdict
	Raw      string
	Model    string
	Attempts int
	Usage    Usage
}
