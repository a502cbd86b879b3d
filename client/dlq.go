package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/governor/api"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// DLQListOptions filter dead letter listings.
type DLQListOptions struct {
	Category string
	TenantID string
	Reason   dlq.Reason
	Limit    int
	Offset   int
}

// ListDLQ lists dead letter entries.
func (c *Client) ListDLQ(ctx context.Context, opts DLQListOptions) ([]*dlq.Entry, error) {
	q := url.Values{}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.TenantID != "" {
		q.Set("tenant_id", opts.TenantID)
	}
	if opts.Reason != "" {
		q.Set("reason", string(opts.Reason))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/v1/dlq"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var entries []*dlq.Entry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetDLQ fetches one dead letter entry by ID.
func (c *Client) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var entry dlq.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/"+entryID.String(), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReplayDLQ re-submits a dead-lettered operation through the full
// admission pipeline and returns the fresh operation.
func (c *Client) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*operation.Operation, error) {
	var op operation.Operation
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/"+entryID.String()+"/replay", nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// DLQCount returns the number of entries in the dead letter queue.
func (c *Client) DLQCount(ctx context.Context) (int64, error) {
	var resp api.DLQCountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// PurgeExpiredDLQ removes entries past their retention period and
// returns how many were purged.
func (c *Client) PurgeExpiredDLQ(ctx context.Context) (int64, error) {
	var resp api.PurgeDLQResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/dlq/expired", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}
