// Package client provides a Go client for a remote Governor instance
// over its HTTP API.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//
//	// Submit an operation.
//	op, err := c.Submit(ctx, api.SubmitOperationRequest{
//	    Category: "send-email",
//	    Payload:  json.RawMessage(`{"to":"bob@example.com"}`),
//	})
//
//	// Inspect and replay dead letters.
//	entries, err := c.ListDLQ(ctx, client.DLQListOptions{Category: "send-email"})
//	replayed, err := c.ReplayDLQ(ctx, entries[0].ID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to a remote Governor admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the Governor instance at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server. Message carries the
// server's error string, which names the governor sentinel that caused
// the rejection (queue full, circuit open, duplicate, not found).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("governor client: API error (%d): %s", e.StatusCode, e.Message)
}

// roundTrip performs one request and returns the raw response.
func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("governor client: marshal request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("governor client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("governor client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("governor client: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// do performs a request and decodes a successful response into out.
// Non-2xx responses become an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	status, respBody, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		return newAPIError(status, respBody)
	}
	if out == nil || status == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("governor client: decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	var er struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg = er.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}
