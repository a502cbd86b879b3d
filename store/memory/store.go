// Package memory provides a fully in-memory store.Store implementation.
// Safe for concurrent access. Intended for unit testing, development, and
// single-process deployments that can tolerate losing state on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/idempotency"
	"github.com/xraph/governor/operation"
	"github.com/xraph/governor/store"
)

// Ensure Store implements the composite contract at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	operations map[string]*operation.Operation
	dlqs       map[string]*dlq.Entry
	idems      map[string]*idempotency.Record // key: "tenantID:key"
	breakers   map[string]*breaker.Status
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		operations: make(map[string]*operation.Operation),
		dlqs:       make(map[string]*dlq.Entry),
		idems:      make(map[string]*idempotency.Record),
		breakers:   make(map[string]*breaker.Status),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Operation Store
// ──────────────────────────────────────────────────

// PutOperation persists a new operation.
func (m *Store) PutOperation(_ context.Context, op *operation.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := op.ID.String()
	if _, exists := m.operations[key]; exists {
		return governor.ErrDuplicateOperation
	}
	m.operations[key] = op.Clone()
	return nil
}

// GetOperation retrieves an operation by ID.
func (m *Store) GetOperation(_ context.Context, opID id.OperationID) (*operation.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[opID.String()]
	if !ok {
		return nil, governor.ErrOperationNotFound
	}
	return op.Clone(), nil
}

// UpdateOperation persists changes to an existing operation.
func (m *Store) UpdateOperation(_ context.Context, op *operation.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := op.ID.String()
	if _, ok := m.operations[key]; !ok {
		return governor.ErrOperationNotFound
	}
	cp := op.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.operations[key] = cp
	return nil
}

// DeleteOperation removes an operation by ID.
func (m *Store) DeleteOperation(_ context.Context, opID id.OperationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := opID.String()
	if _, ok := m.operations[key]; !ok {
		return governor.ErrOperationNotFound
	}
	delete(m.operations, key)
	return nil
}

// ListOperationsByState returns operations in the given state, ordered by
// priority ascending (most urgent first), then EnqueuedAt.
func (m *Store) ListOperationsByState(_ context.Context, state operation.State, opts operation.ListOpts) ([]*operation.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*operation.Operation, 0, len(m.operations))
	for _, op := range m.operations {
		if op.State != state {
			continue
		}
		if opts.Category != "" && op.Category != opts.Category {
			continue
		}
		if opts.TenantID != "" && op.TenantID != opts.TenantID {
			continue
		}
		result = append(result, op.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].Priority != result[k].Priority {
			return result[i].Priority < result[k].Priority
		}
		return result[i].EnqueuedAt.Before(result[k].EnqueuedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountOperations returns the number of operations matching the options.
func (m *Store) CountOperations(_ context.Context, opts operation.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, op := range m.operations {
		if opts.Category != "" && op.Category != opts.Category {
			continue
		}
		if opts.TenantID != "" && op.TenantID != opts.TenantID {
			continue
		}
		if opts.State != "" && op.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Operation = e.Operation.Clone()
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}

// PushDLQ adds an entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = cloneEntry(entry)
	return nil
}

// ListDLQ returns entries matching the given options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Category != "" && (e.Operation == nil || e.Operation.Category != opts.Category) {
			continue
		}
		if opts.TenantID != "" && (e.Operation == nil || e.Operation.TenantID != opts.TenantID) {
			continue
		}
		if opts.Reason != "" && e.Reason != opts.Reason {
			continue
		}
		result = append(result, cloneEntry(e))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, governor.ErrDLQNotFound
	}
	return cloneEntry(e), nil
}

// ReplayDLQ marks an entry as replayed and increments its replay count.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return governor.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	e.ReplayCount++
	return nil
}

// DeleteDLQ removes a single entry.
func (m *Store) DeleteDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.dlqs[key]; !ok {
		return governor.ErrDLQNotFound
	}
	delete(m.dlqs, key)
	return nil
}

// PurgeDLQ removes entries whose ExpiresAt is before the given time.
// Entries with a zero ExpiresAt never expire.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// idemKey builds a composite map key for an idempotency record.
func idemKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// PutIdempotencyIfAbsent installs rec unless a live record exists for its
// (tenant, key). An expired record counts as absent and is replaced.
func (m *Store) PutIdempotencyIfAbsent(_ context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := idemKey(rec.TenantID, rec.Key)
	now := time.Now().UTC()
	if existing, ok := m.idems[k]; ok && !existing.Expired(now) {
		cp := *existing
		return &cp, false, nil
	}
	cp := *rec
	m.idems[k] = &cp
	return nil, true, nil
}

// GetIdempotency retrieves a record, expired or not.
func (m *Store) GetIdempotency(_ context.Context, tenantID, key string) (*idempotency.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idems[idemKey(tenantID, key)]
	if !ok {
		return nil, governor.ErrIdempotencyNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateIdempotencyFingerprint sets the fingerprint on an existing record.
func (m *Store) UpdateIdempotencyFingerprint(_ context.Context, tenantID, key, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idems[idemKey(tenantID, key)]
	if !ok {
		return governor.ErrIdempotencyNotFound
	}
	rec.Fingerprint = fingerprint
	return nil
}

// DeleteIdempotency removes a single record. Unknown records are ignored.
func (m *Store) DeleteIdempotency(_ context.Context, tenantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.idems, idemKey(tenantID, key))
	return nil
}

// DeleteExpiredIdempotency removes records expired before now.
func (m *Store) DeleteExpiredIdempotency(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for k, rec := range m.idems {
		if rec.Expired(now) {
			delete(m.idems, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Breaker Store
// ──────────────────────────────────────────────────

// SaveBreaker upserts the persisted state for a breaker key.
func (m *Store) SaveBreaker(_ context.Context, st *breaker.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *st
	m.breakers[st.Key] = &cp
	return nil
}

// GetBreaker retrieves the persisted state for one key.
func (m *Store) GetBreaker(_ context.Context, key string) (*breaker.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.breakers[key]
	if !ok {
		return nil, governor.ErrBreakerNotFound
	}
	cp := *st
	return &cp, nil
}

// ListBreakers returns all persisted breaker states, ordered by key.
func (m *Store) ListBreakers(_ context.Context) ([]*breaker.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*breaker.Status, 0, len(m.breakers))
	for _, st := range m.breakers {
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Key < result[k].Key
	})
	return result, nil
}

// DeleteBreaker removes the persisted state for a key. Deleting an
// unknown key is a no-op.
func (m *Store) DeleteBreaker(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.breakers, key)
	return nil
}
