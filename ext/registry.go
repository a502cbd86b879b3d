package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/operation"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type operationEnqueuedEntry struct {
	name string
	hook OperationEnqueued
}

type operationAdmittedEntry struct {
	name string
	hook OperationAdmitted
}

type operationCompletedEntry struct {
	name string
	hook OperationCompleted
}

type operationFailedEntry struct {
	name string
	hook OperationFailed
}

type operationRetryingEntry struct {
	name string
	hook OperationRetrying
}

type operationDeadLetteredEntry struct {
	name string
	hook OperationDeadLettered
}

type operationRejectedEntry struct {
	name string
	hook OperationRejected
}

type breakerStateChangedEntry struct {
	name string
	hook BreakerStateChanged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	operationEnqueued     []operationEnqueuedEntry
	operationAdmitted     []operationAdmittedEntry
	operationCompleted    []operationCompletedEntry
	operationFailed       []operationFailedEntry
	operationRetrying     []operationRetryingEntry
	operationDeadLettered []operationDeadLetteredEntry
	operationRejected     []operationRejectedEntry
	breakerStateChanged   []breakerStateChangedEntry
	shutdown              []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(OperationEnqueued); ok {
		r.operationEnqueued = append(r.operationEnqueued, operationEnqueuedEntry{name, h})
	}
	if h, ok := e.(OperationAdmitted); ok {
		r.operationAdmitted = append(r.operationAdmitted, operationAdmittedEntry{name, h})
	}
	if h, ok := e.(OperationCompleted); ok {
		r.operationCompleted = append(r.operationCompleted, operationCompletedEntry{name, h})
	}
	if h, ok := e.(OperationFailed); ok {
		r.operationFailed = append(r.operationFailed, operationFailedEntry{name, h})
	}
	if h, ok := e.(OperationRetrying); ok {
		r.operationRetrying = append(r.operationRetrying, operationRetryingEntry{name, h})
	}
	if h, ok := e.(OperationDeadLettered); ok {
		r.operationDeadLettered = append(r.operationDeadLettered, operationDeadLetteredEntry{name, h})
	}
	if h, ok := e.(OperationRejected); ok {
		r.operationRejected = append(r.operationRejected, operationRejectedEntry{name, h})
	}
	if h, ok := e.(BreakerStateChanged); ok {
		r.breakerStateChanged = append(r.breakerStateChanged, breakerStateChangedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Operation event emitters
// ──────────────────────────────────────────────────

// EmitOperationEnqueued notifies all extensions that implement OperationEnqueued.
func (r *Registry) EmitOperationEnqueued(ctx context.Context, op *operation.Operation) {
	for _, e := range r.operationEnqueued {
		if err := e.hook.OnOperationEnqueued(ctx, op); err != nil {
			r.logHookError("OnOperationEnqueued", e.name, err)
		}
	}
}

// EmitOperationAdmitted notifies all extensions that implement OperationAdmitted.
func (r *Registry) EmitOperationAdmitted(ctx context.Context, op *operation.Operation) {
	for _, e := range r.operationAdmitted {
		if err := e.hook.OnOperationAdmitted(ctx, op); err != nil {
			r.logHookError("OnOperationAdmitted", e.name, err)
		}
	}
}

// EmitOperationCompleted notifies all extensions that implement OperationCompleted.
func (r *Registry) EmitOperationCompleted(ctx context.Context, op *operation.Operation, elapsed time.Duration) {
	for _, e := range r.operationCompleted {
		if err := e.hook.OnOperationCompleted(ctx, op, elapsed); err != nil {
			r.logHookError("OnOperationCompleted", e.name, err)
		}
	}
}

// EmitOperationFailed notifies all extensions that implement OperationFailed.
func (r *Registry) EmitOperationFailed(ctx context.Context, op *operation.Operation, opErr error) {
	for _, e := range r.operationFailed {
		if err := e.hook.OnOperationFailed(ctx, op, opErr); err != nil {
			r.logHookError("OnOperationFailed", e.name, err)
		}
	}
}

// EmitOperationRetrying notifies all extensions that implement OperationRetrying.
func (r *Registry) EmitOperationRetrying(ctx context.Context, op *operation.Operation, attempt int, nextRunAt time.Time) {
	for _, e := range r.operationRetrying {
		if err := e.hook.OnOperationRetrying(ctx, op, attempt, nextRunAt); err != nil {
			r.logHookError("OnOperationRetrying", e.name, err)
		}
	}
}

// EmitOperationDeadLettered notifies all extensions that implement OperationDeadLettered.
func (r *Registry) EmitOperationDeadLettered(ctx context.Context, op *operation.Operation, reason dlq.Reason) {
	for _, e := range r.operationDeadLettered {
		if err := e.hook.OnOperationDeadLettered(ctx, op, reason); err != nil {
			r.logHookError("OnOperationDeadLettered", e.name, err)
		}
	}
}

// EmitOperationRejected notifies all extensions that implement OperationRejected.
func (r *Registry) EmitOperationRejected(ctx context.Context, op *operation.Operation, cause RejectCause) {
	for _, e := range r.operationRejected {
		if err := e.hook.OnOperationRejected(ctx, op, cause); err != nil {
			r.logHookError("OnOperationRejected", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitBreakerStateChanged notifies all extensions that implement BreakerStateChanged.
func (r *Registry) EmitBreakerStateChanged(ctx context.Context, key string, from, to breaker.State) {
	for _, e := range r.breakerStateChanged {
		if err := e.hook.OnBreakerStateChanged(ctx, key, from, to); err != nil {
			r.logHookError("OnBreakerStateChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
