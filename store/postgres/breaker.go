package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/governor"
	"github.com/xraph/governor/breaker"
)

// SaveBreaker upserts the persisted state for a breaker key. Last write
// wins across instances.
func (s *Store) SaveBreaker(ctx context.Context, st *breaker.Status) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO governor_breakers (
			key, state, failures, cooldown, opened_at, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			state = EXCLUDED.state,
			failures = EXCLUDED.failures,
			cooldown = EXCLUDED.cooldown,
			opened_at = EXCLUDED.opened_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		st.Key, string(st.State), st.Failures, st.Cooldown.Nanoseconds(),
		nullableTime(st.OpenedAt), nullableTime(st.ExpiresAt), st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: save breaker: %w", err)
	}
	return nil
}

// GetBreaker retrieves the persisted state for one key.
func (s *Store) GetBreaker(ctx context.Context, key string) (*breaker.Status, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, state, failures, cooldown, opened_at, expires_at, updated_at
		FROM governor_breakers
		WHERE key = $1`,
		key,
	)

	st, err := scanBreaker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrBreakerNotFound
		}
		return nil, fmt.Errorf("governor/postgres: get breaker: %w", err)
	}
	return st, nil
}

// ListBreakers returns all persisted breaker states ordered by key.
func (s *Store) ListBreakers(ctx context.Context) ([]*breaker.Status, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, state, failures, cooldown, opened_at, expires_at, updated_at
		FROM governor_breakers
		ORDER BY key ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("governor/postgres: list breakers: %w", err)
	}
	defer rows.Close()

	var statuses []*breaker.Status
	for rows.Next() {
		st, scanErr := scanBreaker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("governor/postgres: scan breaker row: %w", scanErr)
		}
		statuses = append(statuses, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("governor/postgres: iterate breaker rows: %w", err)
	}
	return statuses, nil
}

// DeleteBreaker removes the persisted state for a key. Deleting an
// unknown key is not an error.
func (s *Store) DeleteBreaker(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM governor_breakers WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("governor/postgres: delete breaker: %w", err)
	}
	return nil
}

// scanBreaker scans a single breaker status row.
func scanBreaker(row pgx.Row) (*breaker.Status, error) {
	var (
		st         breaker.Status
		stateStr   string
		cooldownNs int64
		openedAt   *time.Time
		expiresAt  *time.Time
	)
	err := row.Scan(&st.Key, &stateStr, &st.Failures, &cooldownNs, &openedAt, &expiresAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}

	st.State = breaker.State(stateStr)
	st.Cooldown = time.Duration(cooldownNs)
	st.OpenedAt = timeOrZero(openedAt)
	st.ExpiresAt = timeOrZero(expiresAt)

	return &st, nil
}
