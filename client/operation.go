package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/governor/api"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// ListOptions filter operation listings.
type ListOptions struct {
	Category string
	TenantID string
	Limit    int
	Offset   int
}

// Submit submits an operation for execution and returns the accepted
// operation snapshot. A duplicate idempotency key returns the original
// operation together with an *APIError carrying status 409; a full queue
// or an open circuit returns a nil operation and the *APIError alone.
func (c *Client) Submit(ctx context.Context, req api.SubmitOperationRequest) (*operation.Operation, error) {
	status, body, err := c.roundTrip(ctx, http.MethodPost, "/v1/operations", req)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusAccepted:
		var op operation.Operation
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("governor client: decode response: %w", err)
		}
		return &op, nil
	case status == http.StatusConflict:
		// The conflict body carries the original operation when the
		// server still retains it.
		var op operation.Operation
		if err := json.Unmarshal(body, &op); err == nil && !op.ID.IsNil() {
			return &op, newAPIError(status, body)
		}
		return nil, newAPIError(status, body)
	default:
		return nil, newAPIError(status, body)
	}
}

// GetOperation fetches one operation by ID.
func (c *Client) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	var op operation.Operation
	if err := c.do(ctx, http.MethodGet, "/v1/operations/"+opID.String(), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// CancelOperation cancels a queued or retrying operation.
func (c *Client) CancelOperation(ctx context.Context, opID id.OperationID) error {
	return c.do(ctx, http.MethodDelete, "/v1/operations/"+opID.String(), nil, nil)
}

// ListOperations lists operations in the given state.
func (c *Client) ListOperations(ctx context.Context, state operation.State, opts ListOptions) ([]*operation.Operation, error) {
	q := url.Values{}
	q.Set("state", string(state))
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.TenantID != "" {
		q.Set("tenant_id", opts.TenantID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var ops []*operation.Operation
	if err := c.do(ctx, http.MethodGet, "/v1/operations?"+q.Encode(), nil, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// OperationCounts returns the number of operations in every state.
func (c *Client) OperationCounts(ctx context.Context) (*api.OperationCountsResponse, error) {
	var counts api.OperationCountsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/operations/counts", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}
