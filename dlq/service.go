package dlq

import (
	"context"
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store Store
	ttl   time.Duration
}

// NewService creates a dead letter service. Entries expire ttl after they
// are pushed; a non-positive ttl keeps them until replayed.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Push snapshots a terminally failed operation into the dead letter queue.
// The error string is captured from the final handler error; opErr may be
// nil for reasons that carry no error, such as admission timeouts.
func (s *Service) Push(ctx context.Context, op *operation.Operation, reason Reason, opErr error) (*Entry, error) {
	now := time.Now().UTC()
	firstFailed := now
	if op.FirstFailedAt != nil {
		firstFailed = *op.FirstFailedAt
	}
	entry := &Entry{
		ID:            id.NewDLQID(),
		Operation:     op.Clone(),
		Reason:        reason,
		FirstFailedAt: firstFailed,
		CreatedAt:     now,
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	} else {
		entry.Error = op.LastError
	}
	if s.ttl > 0 {
		entry.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Resolve deletes an entry whose replay has succeeded.
func (s *Service) Resolve(ctx context.Context, entryID id.DLQID) error {
	return s.store.DeleteDLQ(ctx, entryID)
}

// Sweep deletes entries that expired before now. It is run by the
// coordinator's background sweeper, never on the submission path.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, now)
}

// DLQStore returns the underlying store for direct access to List, Get,
// Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
