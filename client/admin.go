package client

import (
	"context"
	"net/http"

	"github.com/xraph/governor/api"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/observability"
)

// Breakers returns the live status of every circuit breaker.
func (c *Client) Breakers(ctx context.Context) ([]*breaker.Status, error) {
	var statuses []*breaker.Status
	if err := c.do(ctx, http.MethodGet, "/v1/breakers", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ResetBreaker forces the named breaker back to closed.
func (c *Client) ResetBreaker(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/v1/breakers/"+key+"/reset", nil, nil)
}

// Stats returns operation counts, DLQ depth, per-category queue stats
// and resource pressure in one call.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var stats api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// MetricsSnapshot returns the server's in-process counter rows.
func (c *Client) MetricsSnapshot(ctx context.Context) ([]observability.RowSnapshot, error) {
	var rows []observability.RowSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/metrics/snapshot", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Healthz verifies the server is up and its store reachable.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
