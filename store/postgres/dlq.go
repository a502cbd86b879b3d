package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/governor"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
)

// PushDLQ adds a dead-lettered operation to the dead letter queue. The
// operation snapshot is stored as JSONB; category, tenant and reason are
// lifted into columns so list filters stay in SQL.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	snapshot, err := json.Marshal(entry.Operation)
	if err != nil {
		return fmt.Errorf("governor/postgres: marshal dlq snapshot: %w", err)
	}

	var category, tenantID string
	if entry.Operation != nil {
		category = entry.Operation.Category
		tenantID = entry.Operation.TenantID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO governor_dlq (
			id, category, tenant_id, reason, error, operation,
			first_failed_at, expires_at, replay_count, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), category, tenantID, string(entry.Reason), entry.Error, snapshot,
		entry.FirstFailedAt, nullableTime(entry.ExpiresAt),
		entry.ReplayCount, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `
		SELECT
			id, reason, error, operation,
			first_failed_at, expires_at, replay_count, replayed_at, created_at
		FROM governor_dlq
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, opts.Category)
		argIdx++
	}
	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	if opts.Reason != "" {
		query += fmt.Sprintf(" AND reason = $%d", argIdx)
		args = append(args, string(opts.Reason))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("governor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("governor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("governor/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, reason, error, operation,
			first_failed_at, expires_at, replay_count, replayed_at, created_at
		FROM governor_dlq
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("governor/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE governor_dlq SET replayed_at = NOW(), replay_count = replay_count + 1 WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return governor.ErrDLQNotFound
	}
	return nil
}

// DeleteDLQ removes a single entry by ID.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM governor_dlq WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("governor/postgres: delete dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return governor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries whose ExpiresAt is before the given time.
// Entries with a NULL expires_at never expire. Returns the number of
// entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM governor_dlq WHERE expires_at IS NOT NULL AND expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("governor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM governor_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("governor/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		reasonStr string
		snapshot  []byte
		expiresAt *time.Time
	)
	err := row.Scan(
		&idStr, &reasonStr, &e.Error, &snapshot,
		&e.FirstFailedAt, &expiresAt, &e.ReplayCount, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Reason = dlq.Reason(reasonStr)
	e.ExpiresAt = timeOrZero(expiresAt)

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("governor/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	if len(snapshot) > 0 {
		if umErr := json.Unmarshal(snapshot, &e.Operation); umErr != nil {
			return nil, fmt.Errorf("governor/postgres: unmarshal dlq snapshot: %w", umErr)
		}
	}

	return &e, nil
}
