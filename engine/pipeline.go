package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/admission"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
	"github.com/xraph/governor/retry"
)

// dispatch hands a ticketed operation to its own pipeline goroutine. The
// cancel func is registered and the inflight count incremented before the
// goroutine exists, so CancelQueued never misses the window and Stop's
// drain never races a fresh submission. Returns false when the engine is
// no longer running; the caller keeps the ledger truthful.
func (eng *Engine) dispatch(op *operation.Operation, ticket *admission.Ticket, permit *breaker.Permit) bool {
	eng.mu.Lock()
	if !eng.started {
		eng.mu.Unlock()
		eng.queue.Cancel(ticket)
		permit.Release()
		return false
	}
	waitCtx, cancelWait := context.WithCancel(eng.baseCtx)
	eng.trackCancel(op.ID.String(), cancelWait)
	eng.inflight.Add(1)
	eng.mu.Unlock()

	go eng.run(waitCtx, cancelWait, op, ticket, permit)
	return true
}

// run owns one operation from admission wait to terminal routing. It runs
// on its own goroutine; op is the pipeline's private copy and is never
// shared with the submitter.
//
// waitCtx covers the admission wait only. CancelQueued and engine
// shutdown cancel it; a grant that races ahead of the cancellation wins.
func (eng *Engine) run(waitCtx context.Context, cancelWait context.CancelFunc, op *operation.Operation, ticket *admission.Ticket, permit *breaker.Permit) {
	defer eng.inflight.Done()
	defer cancelWait()

	err := eng.queue.Acquire(waitCtx, ticket, eng.admissionTimeout())
	eng.untrackCancel(op.ID.String())

	switch {
	case err == nil:
		eng.executeAndRoute(op, permit)
	case errors.Is(err, governor.ErrAdmissionTimeout):
		// No slot within the admission window. No attempt was consumed.
		permit.Release()
		eng.routeSoftFailure(op, governor.ErrAdmissionTimeout)
	default:
		// Cancelled while waiting, by CancelQueued or by shutdown.
		permit.Release()
		eng.finishCancelled(op)
	}
}

// executeAndRoute runs the operation's handler inside the middleware
// chain and routes the outcome. The execution slot is released as soon as
// the handler returns, before any routing work.
func (eng *Engine) executeAndRoute(op *operation.Operation, permit *breaker.Permit) {
	now := time.Now().UTC()
	op.State = operation.StateRunning
	op.StartedAt = &now
	eng.updateLedger(op)
	eng.extensions.EmitOperationAdmitted(eng.baseCtx, op)

	start := time.Now()
	execErr := func() error {
		defer eng.queue.Release(op.Category)
		return eng.execute(eng.baseCtx, op)
	}()
	elapsed := time.Since(start)

	if execErr == nil {
		permit.Record(true)
		eng.finishSucceeded(op, elapsed)
		return
	}

	if eng.baseCtx.Err() != nil && errors.Is(execErr, context.Canceled) {
		// Shutdown cancellation, not a handler verdict. The breaker must
		// not count it either way.
		permit.Release()
		eng.finishCancelled(op)
		return
	}

	permit.Record(false)
	eng.routeHardFailure(op, execErr)
}

// execute runs the handler through the middleware chain. The timeout
// middleware applies op.Timeout to the derived context.
func (eng *Engine) execute(ctx context.Context, op *operation.Operation) error {
	handler, ok := eng.registry.Get(op.Category)
	if !ok {
		return governor.ErrCategoryNotFound
	}

	return eng.chain(ctx, op, func(ctx context.Context) error {
		return handler(ctx, op.Payload)
	})
}

func (eng *Engine) finishSucceeded(op *operation.Operation, elapsed time.Duration) {
	ctx := context.WithoutCancel(eng.baseCtx)

	now := time.Now().UTC()
	op.State = operation.StateSucceeded
	op.CompletedAt = &now
	op.LastError = ""
	eng.updateLedger(op)
	eng.extensions.EmitOperationCompleted(ctx, op, elapsed)

	// A successful replay resolves the dead letter entry it came from.
	if ref := op.Metadata[dlq.MetadataReplayOf]; ref != "" {
		entryID, err := id.ParseDLQID(ref)
		if err != nil {
			return
		}
		if err := eng.dlqSvc.Resolve(ctx, entryID); err != nil && !errors.Is(err, governor.ErrDLQNotFound) {
			eng.logger.Warn("dead letter resolve failed",
				slog.String("entry_id", ref),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (eng *Engine) finishCancelled(op *operation.Operation) {
	now := time.Now().UTC()
	op.State = operation.StateCancelled
	op.CompletedAt = &now
	eng.updateLedger(op)
}

// routeHardFailure handles an execution failure: it consumes an attempt
// and asks the retry policy where the operation goes next.
func (eng *Engine) routeHardFailure(op *operation.Operation, execErr error) {
	ctx := context.WithoutCancel(eng.baseCtx)

	op.Attempt++
	op.LastError = execErr.Error()
	if op.FirstFailedAt == nil {
		now := time.Now().UTC()
		op.FirstFailedAt = &now
	}
	eng.extensions.EmitOperationFailed(ctx, op, execErr)

	open := eng.breakers.StateFor(op.Category, op.TenantID) == breaker.StateOpen
	action := eng.policy.Decide(op, retry.ClassHard, open)
	eng.apply(ctx, op, action, retry.ClassHard, execErr)
}

// routeSoftFailure handles an admission timeout or requeue backpressure:
// no attempt is consumed, and the admission retry counter bounds how
// often the operation may go around again.
func (eng *Engine) routeSoftFailure(op *operation.Operation, cause error) {
	ctx := context.WithoutCancel(eng.baseCtx)

	open := eng.breakers.StateFor(op.Category, op.TenantID) == breaker.StateOpen
	action := eng.policy.Decide(op, retry.ClassSoft, open)
	if action.Kind == retry.KindRetry {
		op.AdmissionRetries++
	}
	eng.apply(ctx, op, action, retry.ClassSoft, cause)
}

// apply carries out a retry policy decision.
func (eng *Engine) apply(ctx context.Context, op *operation.Operation, action retry.Action, class retry.Class, cause error) {
	switch action.Kind {
	case retry.KindRetry:
		op.State = operation.StateRetrying
		eng.updateLedger(op)
		eng.extensions.EmitOperationRetrying(ctx, op, op.Attempt, time.Now().UTC().Add(action.Delay))
		eng.scheduleRetry(op, action.Delay)

	case retry.KindDeadLetter:
		op.State = operation.StateDeadLettered
		eng.updateLedger(op)
		if _, err := eng.dlqSvc.Push(ctx, op, action.Reason, cause); err != nil {
			// The operation keeps its dead_lettered state in the ledger
			// even when the entry could not be written.
			eng.logger.Error("dead letter push failed",
				slog.String("operation_id", op.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		eng.extensions.EmitOperationDeadLettered(ctx, op, action.Reason)

	case retry.KindDrop:
		if class == retry.ClassCancelled {
			eng.finishCancelled(op)
			return
		}
		now := time.Now().UTC()
		op.State = operation.StateFailed
		op.CompletedAt = &now
		eng.updateLedger(op)
	}
}

// scheduleRetry parks the operation until its backoff delay lapses, then
// re-enters admission. Parked retries do not fire during shutdown; the
// ledger keeps them in retrying state for the next Start to resume.
func (eng *Engine) scheduleRetry(op *operation.Operation, delay time.Duration) {
	key := op.ID.String()

	eng.timerMu.Lock()
	defer eng.timerMu.Unlock()
	if eng.draining {
		return
	}
	eng.timers[key] = time.AfterFunc(delay, func() {
		eng.timerMu.Lock()
		if eng.draining {
			eng.timerMu.Unlock()
			return
		}
		if _, ok := eng.timers[key]; !ok {
			// Cancelled between firing and running.
			eng.timerMu.Unlock()
			return
		}
		delete(eng.timers, key)
		// The Add must happen under timerMu: Stop sets draining before it
		// drains the waitgroup, so a callback that saw draining false is
		// counted before the drain begins.
		eng.inflight.Add(1)
		eng.timerMu.Unlock()

		defer eng.inflight.Done()
		eng.requeue(op)
	})
}

// requeue re-enters admission for a retry or a resumed operation. Unlike
// first submission there is no idempotency step and the ledger row is
// updated, not inserted.
func (eng *Engine) requeue(op *operation.Operation) {
	ctx := context.WithoutCancel(eng.baseCtx)

	permit, err := eng.breakers.Admit(op.Category, op.TenantID)
	if err != nil {
		if errors.Is(err, governor.ErrTooManyProbes) {
			// Half-open and saturated with probes. Backpressure, not a
			// verdict: go around again on the soft budget.
			eng.routeSoftFailure(op, err)
			return
		}
		// The circuit opened while the retry was parked.
		action := eng.policy.Decide(op, retry.ClassHard, true)
		eng.apply(ctx, op, action, retry.ClassHard, err)
		return
	}

	ticket, err := eng.queue.Enqueue(op.Category, op.TenantID, op.Priority)
	if err != nil {
		// A full queue at requeue time is backpressure too.
		permit.Release()
		eng.routeSoftFailure(op, err)
		return
	}

	op.State = operation.StateQueued
	op.EnqueuedAt = time.Now().UTC()
	eng.updateLedger(op)
	eng.extensions.EmitOperationEnqueued(ctx, op)

	// A dispatch refusal means Stop won the race; the queued row is
	// resumed on the next Start.
	eng.dispatch(op, ticket, permit)
}

// resumePending re-admits operations a previous run left behind: queued
// rows whose pipeline goroutines died with the process, and retrying rows
// whose timers were lost. Runs on Start before any new submission.
func (eng *Engine) resumePending(ctx context.Context) {
	for _, state := range []operation.State{operation.StateQueued, operation.StateRetrying} {
		ops, err := eng.ledger.ListOperationsByState(ctx, state, operation.ListOpts{})
		if err != nil {
			eng.logger.Warn("resume scan failed",
				slog.String("state", string(state)),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, op := range ops {
			eng.requeue(op)
		}
		if len(ops) > 0 {
			eng.logger.Info("resumed operations",
				slog.String("state", string(state)),
				slog.Int("count", len(ops)),
			)
		}
	}
}

// updateLedger persists op off the caller's context so that shutdown
// cancellation cannot lose a state transition. Persistence failures are
// logged, never escalated: the ledger mirrors pipeline state, it does not
// gate it.
func (eng *Engine) updateLedger(op *operation.Operation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(eng.baseCtx), ledgerWriteTimeout)
	defer cancel()

	if err := eng.ledger.UpdateOperation(ctx, op); err != nil {
		eng.logger.Error("ledger update failed",
			slog.String("operation_id", op.ID.String()),
			slog.String("state", string(op.State)),
			slog.String("error", err.Error()),
		)
	}
}

func (eng *Engine) trackCancel(key string, cancel context.CancelFunc) {
	eng.cancelMu.Lock()
	defer eng.cancelMu.Unlock()
	eng.cancels[key] = cancel
}

func (eng *Engine) untrackCancel(key string) {
	eng.cancelMu.Lock()
	defer eng.cancelMu.Unlock()
	delete(eng.cancels, key)
}

func (eng *Engine) takeCancel(key string) (context.CancelFunc, bool) {
	eng.cancelMu.Lock()
	defer eng.cancelMu.Unlock()
	cancel, ok := eng.cancels[key]
	if ok {
		delete(eng.cancels, key)
	}
	return cancel, ok
}
