package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/ext"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// Register registers a typed operation definition with the engine.
func Register[T any](eng *Engine, def *operation.Definition[T]) {
	operation.RegisterDefinition(eng.registry, def)
}

// RegisterHandler registers a raw payload handler for a category.
func (eng *Engine) RegisterHandler(category string, h operation.HandlerFunc) {
	eng.registry.Register(category, h)
}

// Submit marshals a typed payload and submits it for execution.
func Submit[T any](ctx context.Context, eng *Engine, category string, payload T, opts ...operation.Option) (*operation.Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for category %q: %w", category, err)
	}

	return eng.SubmitRaw(ctx, category, data, opts...)
}

// SubmitRaw submits an operation with a pre-serialized payload.
//
// The synchronous part of the pipeline runs before SubmitRaw returns:
// idempotency check, circuit breaker check, ledger insert, and queue
// entry. Rejections (ErrDuplicateOperation, ErrCircuitOpen,
// ErrTooManyProbes, ErrQueueFull) surface here; anything later is
// reported through extensions and the ledger.
func (eng *Engine) SubmitRaw(ctx context.Context, category string, payload []byte, opts ...operation.Option) (*operation.Operation, error) {
	if !eng.running() {
		return nil, governor.ErrNotRunning
	}
	if _, ok := eng.registry.Get(category); !ok {
		return nil, governor.ErrCategoryNotFound
	}

	// Apply functional options.
	o := operation.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = eng.config.MaxAttempts
	}

	op := &operation.Operation{
		Entity:         governor.NewEntity(),
		ID:             id.NewOperationID(),
		Category:       category,
		TenantID:       o.TenantID,
		Priority:       o.Priority,
		Payload:        payload,
		State:          operation.StateQueued,
		MaxAttempts:    o.MaxAttempts,
		IdempotencyKey: o.IdempotencyKey,
		Metadata:       o.Metadata,
		EnqueuedAt:     time.Now().UTC(),
		Timeout:        o.Timeout,
	}

	// Idempotency first: duplicate deliveries short-circuit before
	// touching the breaker or the queue.
	rec, firstSeen, err := eng.guard.CheckAndRecord(ctx, o.IdempotencyKey, o.TenantID)
	if err != nil {
		return nil, err
	}
	if !firstSeen {
		eng.extensions.EmitOperationRejected(ctx, op, ext.RejectDuplicate)
		if existing := eng.resolveFingerprint(ctx, rec.Fingerprint); existing != nil {
			return existing, governor.ErrDuplicateOperation
		}
		return nil, governor.ErrDuplicateOperation
	}

	if _, err := eng.admit(ctx, op); err != nil {
		// The submission never became an operation. Roll back the first
		// sight so the next delivery of this key is not suppressed as a
		// duplicate of a rejection.
		if forgetErr := eng.guard.Forget(ctx, o.IdempotencyKey, o.TenantID); forgetErr != nil {
			eng.logger.Warn("idempotency rollback failed",
				slog.String("idempotency_key", o.IdempotencyKey),
				slog.String("error", forgetErr.Error()),
			)
		}
		return nil, err
	}

	// The fingerprint lets later duplicates resolve to this operation.
	if fpErr := eng.guard.SetFingerprint(ctx, o.IdempotencyKey, o.TenantID, op.ID.String()); fpErr != nil {
		eng.logger.Warn("idempotency fingerprint update failed",
			slog.String("idempotency_key", o.IdempotencyKey),
			slog.String("error", fpErr.Error()),
		)
	}

	return op, nil
}

// resolveFingerprint maps an idempotency fingerprint back to the live
// operation, so duplicate submitters see what the original produced.
func (eng *Engine) resolveFingerprint(ctx context.Context, fingerprint string) *operation.Operation {
	if fingerprint == "" {
		return nil
	}
	opID, err := id.ParseOperationID(fingerprint)
	if err != nil {
		return nil
	}
	existing, err := eng.ledger.GetOperation(ctx, opID)
	if err != nil {
		return nil
	}
	return existing
}

// admit runs the synchronous admission sequence: breaker permit, ledger
// insert, queue entry. On success a pipeline goroutine owns the
// operation and admit's caller must not mutate it further.
func (eng *Engine) admit(ctx context.Context, op *operation.Operation) (*operation.Operation, error) {
	permit, err := eng.breakers.Admit(op.Category, op.TenantID)
	if err != nil {
		eng.extensions.EmitOperationRejected(ctx, op, ext.RejectCircuitOpen)
		return nil, err
	}

	if err := eng.ledger.PutOperation(ctx, op); err != nil {
		permit.Release()
		return nil, err
	}

	ticket, err := eng.queue.Enqueue(op.Category, op.TenantID, op.Priority)
	if err != nil {
		permit.Release()
		eng.extensions.EmitOperationRejected(ctx, op, ext.RejectQueueFull)
		if delErr := eng.ledger.DeleteOperation(ctx, op.ID); delErr != nil {
			eng.logger.Warn("ledger rollback failed",
				slog.String("operation_id", op.ID.String()),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}

	eng.extensions.EmitOperationEnqueued(ctx, op)

	if !eng.dispatch(op.Clone(), ticket, permit) {
		// Stop won the race. Withdraw the row so the rejected submission
		// leaves nothing behind to resume.
		if delErr := eng.ledger.DeleteOperation(ctx, op.ID); delErr != nil {
			eng.logger.Warn("ledger rollback failed",
				slog.String("operation_id", op.ID.String()),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, governor.ErrNotRunning
	}

	return op, nil
}

// GetOperation returns the ledger record for an operation.
func (eng *Engine) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	return eng.ledger.GetOperation(ctx, opID)
}

// Status returns the lifecycle state of an operation.
func (eng *Engine) Status(ctx context.Context, opID id.OperationID) (operation.State, error) {
	op, err := eng.ledger.GetOperation(ctx, opID)
	if err != nil {
		return "", err
	}
	return op.State, nil
}

// CancelQueued cancels an operation that has not been admitted yet:
// either waiting for an execution slot or parked between retry attempts.
// Running operations are not interrupted; cancelling one returns
// ErrInvalidState. A slot grant that races ahead of the cancellation
// wins, and the operation executes normally.
func (eng *Engine) CancelQueued(ctx context.Context, opID id.OperationID) error {
	op, err := eng.ledger.GetOperation(ctx, opID)
	if err != nil {
		return err
	}
	if op.State != operation.StateQueued && op.State != operation.StateRetrying {
		return governor.ErrInvalidState
	}

	// A parked retry is cancelled by stopping its timer.
	key := opID.String()
	eng.timerMu.Lock()
	if timer, ok := eng.timers[key]; ok {
		timer.Stop()
		delete(eng.timers, key)
		eng.timerMu.Unlock()
		return eng.markCancelled(ctx, op)
	}
	eng.timerMu.Unlock()

	// A waiter blocked on admission is cancelled through its context; its
	// own pipeline goroutine writes the terminal state.
	if cancel, ok := eng.takeCancel(key); ok {
		cancel()
		return nil
	}

	// Not owned by this process: the row was left behind by a previous
	// run and has no waiter to unblock.
	return eng.markCancelled(ctx, op)
}

func (eng *Engine) markCancelled(ctx context.Context, op *operation.Operation) error {
	now := time.Now().UTC()
	op.State = operation.StateCancelled
	op.CompletedAt = &now
	return eng.ledger.UpdateOperation(ctx, op)
}

// ReplayDLQ rebuilds the operation snapshot stored in a dead letter entry
// and sends it through the full admission pipeline: fresh ID, zeroed
// attempt counter, no pre-admitted privileges. The entry itself stays in
// the store, marked replayed, and is resolved when the replay succeeds.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*operation.Operation, error) {
	if !eng.running() {
		return nil, governor.ErrNotRunning
	}

	op, err := eng.dlqSvc.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if _, ok := eng.registry.Get(op.Category); !ok {
		return nil, governor.ErrCategoryNotFound
	}

	return eng.admit(ctx, op)
}
