package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the worker-side connection to a scheduler. It is a thin
// JSON-over-HTTP client: every call is one synchronous round trip, errors
// come back as APIError values with their original code, and nothing is
// ever retried here — retrying a non-idempotent storage write could
// duplicate state.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the scheduler at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithHTTPClient returns a client using the given http.Client, for callers
// that need custom transports or timeouts.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{baseURL: c.baseURL, httpClient: httpClient}
}

// Health checks scheduler liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// EnsureExtension idempotently installs the extension registered under key
// on the scheduler. Safe to call from any number of clients racing to be
// first; every caller observes an installed extension on return.
func (c *Client) EnsureExtension(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/extensions/"+key, nil, nil)
}

// ExtensionKeys returns the keys of extensions installed on the scheduler.
func (c *Client) ExtensionKeys(ctx context.Context) ([]string, error) {
	var resp listExtensionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/extensions/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// CallExtension dispatches one operation to an installed extension and
// decodes the result into out (which may be nil for ops without results).
func (c *Client) CallExtension(ctx context.Context, key, op string, in, out any) error {
	return c.do(ctx, http.MethodPost, "/api/v1/extensions/"+key+"/ops/"+op, in, out)
}

// do performs an HTTP request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
