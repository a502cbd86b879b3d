// Package governor provides a bounded concurrency and reliability control
// engine for Go. It admits, throttles, retries, and dead-letters units of
// work flowing toward shared downstream resources, keeping concurrency
// inside configured limits under sustained overload.
//
// Governor is designed as a library, not a service. Import it, configure a
// store, register operation handlers per category, and submit operations.
//
// # Quick Start
//
//	g, err := governor.New(
//	    governor.WithStore(memStore),
//	    governor.WithCategory("payments", governor.CategoryLimits{MaxConcurrent: 8, MaxQueueSize: 256}),
//	)
//
// # Architecture
//
// Governor follows a composable store pattern where each subsystem
// (operation, dlq, idempotency, breaker) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package governor
