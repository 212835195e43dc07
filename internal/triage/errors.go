package triage

import "errors"

var (
	// ErrParse means the model answered but no valid verdict could be
	// extracted.
	ErrParse = errors.New("triage: unparseable model response")

	// ErrAuth means the provider rejected the credentials.
	ErrAuth = errors.New("triage: provider authentication failed")

	// ErrTransport covers every other provider failure.
	ErrTransport = errors.New("triage: provider call failed")
)
