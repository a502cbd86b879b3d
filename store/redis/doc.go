// Package redis implements store.Store backed by Redis. Suitable for
// deployments where several governor instances share the operation
// ledger, dead letter store, idempotency records, and breaker state.
//
// Operations, dead letter entries, and breaker statuses are stored as
// Hashes with Set indexes for enumeration. Idempotency records are JSON
// strings written with SETNX so the first-sight check-and-insert is
// atomic. Record expiry is handled by the engine's background sweep
// rather than native Redis TTLs, keeping expiry semantics identical
// across store backends.
//
// The caller owns the Redis client lifecycle — this package never
// closes it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
