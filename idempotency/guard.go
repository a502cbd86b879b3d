package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long records suppress duplicates when no TTL is
// configured. It should span the realistic retry window of the upstream
// source.
const DefaultTTL = time.Hour

// Guard wraps a Store with TTL handling. It is the submission-path
// entrance; everything it does is a single read or write, deletes happen
// only in the background sweep.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard creates a guard. A non-positive ttl falls back to DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// CheckAndRecord resolves one sight of an external event key. The first
// sight installs a record and returns it with true; a later sight within
// the TTL returns the stored record with false so the caller can
// short-circuit. An empty key opts out of idempotency and always counts
// as first sight. Check and insert are atomic, so two concurrent
// submissions of the same key cannot both proceed.
func (g *Guard) CheckAndRecord(ctx context.Context, key, tenantID string) (*Record, bool, error) {
	if key == "" {
		return nil, true, nil
	}
	now := time.Now().UTC()
	rec := &Record{
		Key:         key,
		TenantID:    tenantID,
		FirstSeenAt: now,
		ExpiresAt:   now.Add(g.ttl),
	}
	existing, inserted, err := g.store.PutIdempotencyIfAbsent(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return rec, true, nil
	}
	return existing, false, nil
}

// SetFingerprint records the operation that carried the key, once the
// operation exists. Duplicates arriving afterwards receive it.
func (g *Guard) SetFingerprint(ctx context.Context, key, tenantID, fingerprint string) error {
	if key == "" {
		return nil
	}
	return g.store.UpdateIdempotencyFingerprint(ctx, tenantID, key, fingerprint)
}

// Forget rolls back a first sight whose submission was rejected before an
// operation existed. The upstream source will redeliver the event, and the
// redelivery must count as first sight again.
func (g *Guard) Forget(ctx context.Context, key, tenantID string) error {
	if key == "" {
		return nil
	}
	return g.store.DeleteIdempotency(ctx, tenantID, key)
}

// Sweep deletes records expired before now.
func (g *Guard) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return g.store.DeleteExpiredIdempotency(ctx, now)
}

// TTL returns the configured record lifetime.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}
