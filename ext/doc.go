// Package ext defines the extension system for Governor.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnOperationCompleted(ctx context.Context, op *operation.Operation, elapsed time.Duration) error {
//	    log.Printf("operation %s completed in %s", op.ID, elapsed)
//	    return nil
//	}
//
// # Operation Lifecycle Hooks
//
//   - [OperationEnqueued] — operation was accepted and queued for admission
//   - [OperationAdmitted] — a concurrency slot was granted, execution begins
//   - [OperationCompleted] — operation finished successfully
//   - [OperationFailed] — operation failed terminally (dropped, not dead-lettered)
//   - [OperationRetrying] — operation failed but will be re-executed
//   - [OperationDeadLettered] — operation was pushed to the dead letter store
//   - [OperationRejected] — submission was refused before the operation ran
//
// # Other Hooks
//
//   - [BreakerStateChanged] — a circuit breaker transitioned between states
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
