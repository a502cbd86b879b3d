package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/governor"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// PutOperation persists a new operation in the ledger.
func (s *Store) PutOperation(ctx context.Context, op *operation.Operation) error {
	metadata, err := marshalMetadata(op.Metadata)
	if err != nil {
		return fmt.Errorf("governor/postgres: marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO governor_operations (
			id, category, tenant_id, priority, payload, state,
			attempt, max_attempts, admission_retries, last_error,
			idempotency_key, metadata,
			enqueued_at, started_at, completed_at, first_failed_at,
			timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19
		)`,
		op.ID.String(), op.Category, op.TenantID, op.Priority, op.Payload, string(op.State),
		op.Attempt, op.MaxAttempts, op.AdmissionRetries, op.LastError,
		op.IdempotencyKey, metadata,
		op.EnqueuedAt, op.StartedAt, op.CompletedAt, op.FirstFailedAt,
		op.Timeout.Nanoseconds(), op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		// Unique violation means the ID was already inserted.
		if isDuplicateKey(err) {
			return governor.ErrDuplicateOperation
		}
		return fmt.Errorf("governor/postgres: put operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID.
func (s *Store) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, category, tenant_id, priority, payload, state,
			attempt, max_attempts, admission_retries, last_error,
			idempotency_key, metadata,
			enqueued_at, started_at, completed_at, first_failed_at,
			timeout, created_at, updated_at
		FROM governor_operations
		WHERE id = $1`,
		opID.String(),
	)

	op, err := scanOperation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrOperationNotFound
		}
		return nil, fmt.Errorf("governor/postgres: get operation: %w", err)
	}
	return op, nil
}

// UpdateOperation persists changes to an existing operation.
func (s *Store) UpdateOperation(ctx context.Context, op *operation.Operation) error {
	metadata, err := marshalMetadata(op.Metadata)
	if err != nil {
		return fmt.Errorf("governor/postgres: marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE governor_operations SET
			category = $2, tenant_id = $3, priority = $4, payload = $5,
			state = $6, attempt = $7, max_attempts = $8,
			admission_retries = $9, last_error = $10,
			idempotency_key = $11, metadata = $12,
			enqueued_at = $13, started_at = $14, completed_at = $15,
			first_failed_at = $16, timeout = $17,
			updated_at = NOW()
		WHERE id = $1`,
		op.ID.String(), op.Category, op.TenantID, op.Priority, op.Payload,
		string(op.State), op.Attempt, op.MaxAttempts,
		op.AdmissionRetries, op.LastError,
		op.IdempotencyKey, metadata,
		op.EnqueuedAt, op.StartedAt, op.CompletedAt,
		op.FirstFailedAt, op.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("governor/postgres: update operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return governor.ErrOperationNotFound
	}
	return nil
}

// DeleteOperation removes an operation by ID.
func (s *Store) DeleteOperation(ctx context.Context, opID id.OperationID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM governor_operations WHERE id = $1`, opID.String())
	if err != nil {
		return fmt.Errorf("governor/postgres: delete operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return governor.ErrOperationNotFound
	}
	return nil
}

// ListOperationsByState returns operations matching the given state,
// most urgent first.
func (s *Store) ListOperationsByState(ctx context.Context, state operation.State, opts operation.ListOpts) ([]*operation.Operation, error) {
	query := `
		SELECT
			id, category, tenant_id, priority, payload, state,
			attempt, max_attempts, admission_retries, last_error,
			idempotency_key, metadata,
			enqueued_at, started_at, completed_at, first_failed_at,
			timeout, created_at, updated_at
		FROM governor_operations
		WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

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

	query += " ORDER BY priority ASC, enqueued_at ASC"

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
		return nil, fmt.Errorf("governor/postgres: list operations by state: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// CountOperations returns the number of operations matching the options.
func (s *Store) CountOperations(ctx context.Context, opts operation.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM governor_operations WHERE 1=1`
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
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("governor/postgres: count operations: %w", err)
	}
	return count, nil
}

// scanOperation scans a single operation row.
func scanOperation(row pgx.Row) (*operation.Operation, error) {
	var (
		op          operation.Operation
		idStr       string
		stateStr    string
		metadataRaw []byte
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &op.Category, &op.TenantID, &op.Priority, &op.Payload, &stateStr,
		&op.Attempt, &op.MaxAttempts, &op.AdmissionRetries, &op.LastError,
		&op.IdempotencyKey, &metadataRaw,
		&op.EnqueuedAt, &op.StartedAt, &op.CompletedAt, &op.FirstFailedAt,
		&timeoutNs, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.State = operation.State(stateStr)
	op.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseOperationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("governor/postgres: parse operation id %q: %w", idStr, parseErr)
	}
	op.ID = parsedID

	if len(metadataRaw) > 0 {
		if umErr := json.Unmarshal(metadataRaw, &op.Metadata); umErr != nil {
			return nil, fmt.Errorf("governor/postgres: unmarshal metadata: %w", umErr)
		}
	}

	return &op, nil
}

// collectOperations collects all operations from query rows.
func collectOperations(rows pgx.Rows) ([]*operation.Operation, error) {
	var ops []*operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("governor/postgres: scan operation row: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("governor/postgres: iterate operation rows: %w", err)
	}
	return ops, nil
}

// marshalMetadata encodes the metadata map as JSONB, NULL when empty.
func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
