package dlq

import (
	"context"
	"time"

	"github.com/xraph/governor/id"
)

// ListOpts controls pagination and filtering for dead letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Category filters by operation category. Empty means all categories.
	Category string
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// Reason filters by dead-letter reason. Empty means all reasons.
	Reason Reason
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds an entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed: sets ReplayedAt and increments
	// ReplayCount. The re-submission itself happens at the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// DeleteDLQ removes a single entry. Used when a replayed operation
	// eventually succeeds.
	DeleteDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries whose ExpiresAt is before the given time.
	// Entries with a zero ExpiresAt never expire. Returns the number of
	// entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
