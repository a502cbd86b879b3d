// Package idempotency suppresses duplicate submissions of the same
// external event. The first sight of a key records it; later sights
// within the TTL short-circuit with the stored fingerprint instead of
// re-executing the operation.
package idempotency

import (
	"context"
	"time"
)

// Record marks one external event key as seen.
type Record struct {
	Key      string `json:"key"`
	TenantID string `json:"tenant_id,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`

	// ExpiresAt is when the record stops suppressing duplicates. Zero
	// means it never expires.
	ExpiresAt time.Time `json:"expires_at"`

	// Fingerprint identifies the operation that first carried the key,
	// set once it exists. Duplicates receive it instead of re-executing.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Expired reports whether the record no longer suppresses duplicates.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store defines the persistence contract for idempotency records.
// Records are keyed by (tenant, key); tenants never see each other's keys.
type Store interface {
	// PutIdempotencyIfAbsent installs rec unless a live record already
	// exists for its (tenant, key). The check and the insert are a single
	// atomic step against the backing store. An expired record counts as
	// absent and is replaced. Returns (nil, true) when rec was installed,
	// or (existing, false) when a live record blocked it.
	PutIdempotencyIfAbsent(ctx context.Context, rec *Record) (*Record, bool, error)

	// GetIdempotency retrieves a record, expired or not.
	GetIdempotency(ctx context.Context, tenantID, key string) (*Record, error)

	// UpdateIdempotencyFingerprint sets the fingerprint on an existing record.
	UpdateIdempotencyFingerprint(ctx context.Context, tenantID, key, fingerprint string) error

	// DeleteIdempotency removes a single record. Used to roll back a first
	// sight whose submission was then rejected synchronously; without the
	// rollback, upstream redeliveries of the rejected event would be
	// suppressed as duplicates until the TTL lapses. Deleting an unknown
	// record is not an error.
	DeleteIdempotency(ctx context.Context, tenantID, key string) error

	// DeleteExpiredIdempotency removes records expired before now and
	// returns how many were deleted. Run by the background sweep, never on
	// the submission path.
	DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)
}
