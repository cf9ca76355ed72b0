// Package sheets forwards flattened form payloads to a Google Apps Script
// webhook that appends them to a spreadsheet.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DataSolution tags every row written by this service.
const DataSolution = "kblog-google-sheets"

// DefaultTimeout bounds one webhook call.
const DefaultTimeout = 10 * time.Second

// Config configures the webhook client.
type Config struct {
	URL     string        `mapstructure:"url"`
	Skip    bool          `mapstructure:"skip"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client posts payloads to the webhook.
type Client struct {
	endpoint string
	skip     bool
	http     *http.Client
	now      func() time.Time
}

// New validates the endpoint and builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if !cfg.Skip {
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid sheets endpoint url %q", cfg.URL)
		}
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: cfg.URL, skip: cfg.Skip, http: httpClient, now: time.Now}, nil
}

// Submit flattens payload, adds dataSolution and a timestamp when missing,
// and posts it. A non-2xx answer is an error. A 2xx answer that is not JSON
// is reported as {"success": true}.
func (c *Client) Submit(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if c.skip {
		return map[string]any{"success": true, "skipped": true}, nil
	}
	body, err := Flatten(payload)
	if err != nil {
		return nil, err
	}
	body["dataSolution"] = DataSolution
	if ts, ok := body["timestamp"]; !ok || ts == nil || ts == "" {
		body["timestamp"] = c.now().UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode sheets payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build sheets request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheets request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read to completion below
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read sheets response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("sheets request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil || result == nil {
		return map[string]any{"success": true}, nil
	}
	return result, nil
}

// Flatten converts payload into spreadsheet-friendly scalars: arrays are
// joined with "; ", objects become JSON strings, everything else is kept.
func Flatten(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("payload must be an object: %w", err)
	}
	out := make(map[string]any, len(generic))
	for k, v := range generic {
		out[k] = flattenValue(v)
	}
	return out, nil
}

func flattenValue(v any) any {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, scalarString(item))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return v
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}
