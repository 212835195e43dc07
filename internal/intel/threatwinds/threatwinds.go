// Package threatwinds is an intel.Provider backed by the ThreatWinds entity
// search API.
package threatwinds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/sift/internal/intel"
	"github.com/linnemanlabs/sift/internal/redact"
)

// DefaultEndpoint is the public entity search endpoint.
const DefaultEndpoint = "https://intelligence.threatwinds.com/api/search/v1/entity"

const httpTimeout = 15 * time.Second

var reputationScale = map[int]string{
	-3: "Critical",
	-2: "Bad",
	-1: "Poor",
	0:  "Neutral",
	1:  "Fair",
	2:  "Good",
	3:  "Great",
}

// Client queries ThreatWinds for one entity at a time.
type Client struct {
	endpoint   string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// New creates a client. An empty endpoint selects DefaultEndpoint.
func New(endpoint, apiKey, apiSecret string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: httpTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type searchRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type searchResponse struct {
	Reputation *int      `json:"reputation"`
	Timestamp  time.Time `json:"@timestamp"`
	Tags       []string  `json:"tags"`
}

// Check implements intel.Provider. A 404 means the entity is unknown.
func (c *Client) Check(ctx context.Context, cat redact.Category, value string) (*intel.Finding, error) {
	body, err := json.Marshal(searchRequest{Type: string(cat), Value: value})
	if err != nil {
		return nil, fmt.Errorf("threatwinds: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("threatwinds: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Secret", c.apiSecret)

	resp, err := c.httpClient.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return nil, fmt.Errorf("threatwinds: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("threatwinds: status %d: %s", resp.StatusCode, string(snippet))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("threatwinds: decode response: %w", err)
	}
	if out.Reputation == nil {
		return nil, fmt.Errorf("threatwinds: response missing reputation")
	}
	rep, ok := reputationScale[*out.Reputation]
	if !ok {
		return nil, fmt.Errorf("threatwinds: reputation %d out of range", *out.Reputation)
	}

	return &intel.Finding{
		Type:       cat,
		Value:      value,
		Reputation: rep,
		LastSeen:   out.Timestamp,
		Tags:       out.Tags,
	}, nil
}
