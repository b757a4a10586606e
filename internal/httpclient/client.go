// Package httpclient is the client side of the operational HTTP API, used by the CLI.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a whole request when no timeout is given
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps the bytes read from a response body
	maxResponseSize = 10 << 20
)

// Client performs JSON requests against a record-sync server
type Client interface {
	// Get fetches url and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
	// Post sends an empty POST to url and returns the response body
	Post(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient implements Client with net/http
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a client whose requests time out after timeout,
// or DefaultTimeout when timeout is zero
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get fetches url
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Post sends an empty POST to url
func (c *DefaultClient) Post(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, url)
}

func (c *DefaultClient) do(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", strings.ToLower(method), url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
		}
	}
	return body, nil
}

// errorMessage extracts the message of a {"error": "..."} body
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(body) > 0 {
		return strings.TrimSpace(string(body))
	}
	return fallback
}
