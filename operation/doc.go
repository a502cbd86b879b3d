// Package operation defines the operation entity, state machine, typed
// definitions, and ledger store interface.
//
// # Operation Entity
//
// An [Operation] represents a unit of work bound for a shared downstream
// resource. It embeds [governor.Entity] for timestamps, carries an opaque
// payload (JSON), and progresses through a state machine:
//
//	queued → running → succeeded
//	queued → running → retrying → queued → ...
//	queued → running → failed
//	queued → running → dead_lettered
//	queued → cancelled
//
// Fields of note:
//   - Category: the resource class whose concurrency slots it competes for
//   - Priority: lower values are admitted first; ties admit in enqueue order
//   - Attempt / MaxAttempts: execution budget; Attempt never exceeds MaxAttempts
//   - Timeout: per-attempt execution deadline (zero = unlimited)
//   - IdempotencyKey: duplicate-suppression key (empty = no suppression)
//
// # Defining an Operation
//
// Use [Definition] with a typed handler. The payload is JSON-serialized at
// submit time and deserialized before the handler runs:
//
//	var ChargeCard = operation.NewDefinition("payments",
//	    func(ctx context.Context, input ChargeInput) error {
//	        return gateway.Charge(input.Account, input.Amount)
//	    },
//	)
//
// # Registry
//
// [Registry] maps categories to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	operation.RegisterDefinition(registry, ChargeCard)
//	operation.RegisterDefinition(registry, SyncLedger)
//
// The engine package provides higher-level engine.Register and
// engine.Submit wrappers.
package operation
