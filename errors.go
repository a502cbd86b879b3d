package governor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("governor: no store configured")
	ErrStoreClosed     = errors.New("governor: store closed")
	ErrMigrationFailed = errors.New("governor: migration failed")

	// Not found errors.
	ErrOperationNotFound   = errors.New("governor: operation not found")
	ErrCategoryNotFound    = errors.New("governor: category not registered")
	ErrDLQNotFound         = errors.New("governor: dlq entry not found")
	ErrBreakerNotFound     = errors.New("governor: breaker not found")
	ErrIdempotencyNotFound = errors.New("governor: idempotency record not found")

	// Admission errors. All are expected operating conditions, never fatal.
	ErrQueueFull        = errors.New("governor: admission queue full")
	ErrAdmissionTimeout = errors.New("governor: admission timed out")
	ErrCircuitOpen      = errors.New("governor: circuit open")
	ErrTooManyProbes    = errors.New("governor: circuit half-open probe limit reached")

	// Execution errors.
	ErrRetriesExhausted   = errors.New("governor: retries exhausted")
	ErrOperationCancelled = errors.New("governor: operation cancelled")

	// Conflict errors.
	ErrDuplicateOperation = errors.New("governor: duplicate operation")
	ErrInvalidState       = errors.New("governor: invalid state transition")

	// Lifecycle errors.
	ErrNoEngine   = errors.New("governor: no engine built")
	ErrNotRunning = errors.New("governor: engine not running")
)
