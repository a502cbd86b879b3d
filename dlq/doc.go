// Package dlq provides the dead letter store for operations that reached
// a terminal failure. It supports inspection, replay, and TTL expiry.
//
// When the retry engine decides an operation is done for, the coordinator
// calls [Service.Push] with one of three reasons:
//   - retries_exhausted: the final execution attempt failed
//   - circuit_open: the circuit stayed open at retry-decision time
//   - admission_timeout: the operation kept timing out waiting for a slot
//
// The full operation snapshot, the final error, and the failure timeline
// are preserved for debugging.
//
// # Replay
//
// [Service.Replay] builds a fresh operation from an entry: new ID, zero
// attempts, same payload and routing. The coordinator submits it through
// the normal pipeline, so a replay faces the same idempotency, breaker,
// and admission checks as any other submission. The entry records
// ReplayCount and ReplayedAt, and is deleted once a replay succeeds.
//
// # Expiry
//
// Entries carry an ExpiresAt deadline. [Service.Sweep] purges expired
// entries; the coordinator runs it on a background interval so expiry
// never touches the submission path.
//
// # Admin API
//
// The dead letter queue is exposed via the HTTP API:
//   - GET    /v1/dlq                  — list entries (filterable)
//   - GET    /v1/dlq/{entryId}        — get a single entry
//   - POST   /v1/dlq/{entryId}/replay — replay one entry
//   - DELETE /v1/dlq/expired          — purge expired entries now
package dlq
