// Package triage asks a language model for a verdict on a prepared prompt.
// It defines the Provider boundary that model backends implement, the Engine
// that retries unparseable answers within a time budget, and the Verdict
// model the rest of the pipeline persists.
package triage
