// Package store defines the aggregate persistence interface.
//
// Each subsystem (operation, dlq, idempotency, breaker) defines its own
// store interface. The composite [Store] composes them all. A single
// backend need only implement Store to satisfy every subsystem's
// persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    operation.Store
//	    dlq.Store
//	    idempotency.Store
//	    breaker.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/postgres — PostgreSQL backend using pgx/v5
//   - store/redis — Redis backend using go-redis
//
// # Usage
//
// Pass a backend to the controller at construction:
//
//	c, err := governor.New(
//	    governor.WithStore(memory.New()),
//	)
//
// The controller closes the store on Stop; run Migrate once at deploy
// time (the daemon's -migrate flag does this). Subsystems receive only
// the narrow interface they declare, so a custom backend can also be
// assembled from separate pieces.
package store
