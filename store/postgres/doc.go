// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: INSERT .. ON CONFLICT for atomic idempotency first sight,
// JSONB operation snapshots in the dead letter queue, embedded SQL
// migrations with a tracking table.
package postgres
