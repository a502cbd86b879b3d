// Package ext defines the extension system for Governor.
// Extensions are notified of lifecycle events (operation enqueued,
// completed, dead-lettered, etc.) and can react to them — logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/operation"
)

// RejectCause names why a submission was refused before execution.
type RejectCause string

const (
	// RejectQueueFull means the category's admission queue was at capacity.
	RejectQueueFull RejectCause = "queue_full"

	// RejectCircuitOpen means the category's circuit breaker refused entry.
	RejectCircuitOpen RejectCause = "circuit_open"

	// RejectDuplicate means the idempotency guard had already seen the key.
	RejectDuplicate RejectCause = "duplicate"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Operation lifecycle hooks
// ──────────────────────────────────────────────────

// OperationEnqueued is called after an operation is accepted and queued
// for admission.
type OperationEnqueued interface {
	OnOperationEnqueued(ctx context.Context, op *operation.Operation) error
}

// OperationAdmitted is called when an operation is granted a concurrency
// slot and begins executing.
type OperationAdmitted interface {
	OnOperationAdmitted(ctx context.Context, op *operation.Operation) error
}

// OperationCompleted is called after an operation finishes successfully.
type OperationCompleted interface {
	OnOperationCompleted(ctx context.Context, op *operation.Operation, elapsed time.Duration) error
}

// OperationFailed is called when an operation fails terminally without
// being dead-lettered (dropped or cancelled).
type OperationFailed interface {
	OnOperationFailed(ctx context.Context, op *operation.Operation, err error) error
}

// OperationRetrying is called when an operation fails but is scheduled
// for another execution.
type OperationRetrying interface {
	OnOperationRetrying(ctx context.Context, op *operation.Operation, attempt int, nextRunAt time.Time) error
}

// OperationDeadLettered is called when an operation is pushed to the
// dead letter store.
type OperationDeadLettered interface {
	OnOperationDeadLettered(ctx context.Context, op *operation.Operation, reason dlq.Reason) error
}

// OperationRejected is called when a submission is refused before the
// operation ever runs. The operation may be partially populated: a
// queue-full rejection carries the operation that could not be queued,
// a duplicate rejection carries the original operation when it is
// still retained.
type OperationRejected interface {
	OnOperationRejected(ctx context.Context, op *operation.Operation, cause RejectCause) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// BreakerStateChanged is called when a circuit breaker transitions
// between states.
type BreakerStateChanged interface {
	OnBreakerStateChanged(ctx context.Context, key string, from, to breaker.State) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
