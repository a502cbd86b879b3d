package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/governor"
	"github.com/xraph/governor/idempotency"
)

// PutIdempotencyIfAbsent installs rec unless a live record already exists
// for its (tenant, key). The whole check-and-insert is one statement: the
// ON CONFLICT clause only overwrites rows that have already expired, so
// concurrent first sights of the same key produce exactly one winner.
func (s *Store) PutIdempotencyIfAbsent(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	now := time.Now().UTC()

	var insertedKey string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO governor_idempotency (tenant_id, key, first_seen_at, expires_at, fingerprint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			first_seen_at = EXCLUDED.first_seen_at,
			expires_at = EXCLUDED.expires_at,
			fingerprint = EXCLUDED.fingerprint
		WHERE governor_idempotency.expires_at IS NOT NULL
		  AND governor_idempotency.expires_at <= $6
		RETURNING key`,
		rec.TenantID, rec.Key, rec.FirstSeenAt, nullableTime(rec.ExpiresAt), rec.Fingerprint,
		now,
	).Scan(&insertedKey)
	if err == nil {
		// A returned row means the insert or the expired-overwrite applied.
		return nil, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("governor/postgres: put idempotency: %w", err)
	}

	// No row returned: a live record blocked the insert. Read it back for
	// the caller. If it vanished in between (sweep), try again.
	existing, getErr := s.GetIdempotency(ctx, rec.TenantID, rec.Key)
	if getErr != nil {
		if errors.Is(getErr, governor.ErrIdempotencyNotFound) {
			return s.PutIdempotencyIfAbsent(ctx, rec)
		}
		return nil, false, getErr
	}
	return existing, false, nil
}

// GetIdempotency retrieves a record, expired or not.
func (s *Store) GetIdempotency(ctx context.Context, tenantID, key string) (*idempotency.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, key, first_seen_at, expires_at, fingerprint
		FROM governor_idempotency
		WHERE tenant_id = $1 AND key = $2`,
		tenantID, key,
	)

	rec, err := scanIdempotency(row)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("governor/postgres: get idempotency: %w", err)
	}
	return rec, nil
}

// UpdateIdempotencyFingerprint sets the fingerprint on an existing record.
func (s *Store) UpdateIdempotencyFingerprint(ctx context.Context, tenantID, key, fingerprint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE governor_idempotency SET fingerprint = $3 WHERE tenant_id = $1 AND key = $2`,
		tenantID, key, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: update idempotency fingerprint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return governor.ErrIdempotencyNotFound
	}
	return nil
}

// DeleteIdempotency removes a single record. Unknown records are ignored.
func (s *Store) DeleteIdempotency(ctx context.Context, tenantID, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM governor_idempotency WHERE tenant_id = $1 AND key = $2`,
		tenantID, key,
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: delete idempotency: %w", err)
	}
	return nil
}

// DeleteExpiredIdempotency removes records expired at the given time and
// returns how many were deleted.
func (s *Store) DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM governor_idempotency WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("governor/postgres: delete expired idempotency: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanIdempotency scans a single idempotency record row.
func scanIdempotency(row pgx.Row) (*idempotency.Record, error) {
	var (
		rec       idempotency.Record
		expiresAt *time.Time
	)
	err := row.Scan(&rec.TenantID, &rec.Key, &rec.FirstSeenAt, &expiresAt, &rec.Fingerprint)
	if err != nil {
		return nil, err
	}
	rec.ExpiresAt = timeOrZero(expiresAt)
	return &rec, nil
}
