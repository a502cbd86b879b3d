package dlq

import (
	"context"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// Replay builds a fresh operation from a dead letter entry and marks the
// entry as replayed. The new operation gets a new ID and a zero attempt
// count, and must go through the full admission pipeline; replay is a
// fresh submission, not a bypass. The entry itself stays in the store
// until the replay succeeds.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*operation.Operation, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	src := entry.Operation
	now := time.Now().UTC()

	metadata := make(map[string]string, len(src.Metadata)+1)
	for k, v := range src.Metadata {
		metadata[k] = v
	}
	metadata[MetadataReplayOf] = entryID.String()

	op := &operation.Operation{
		Entity:      governor.NewEntity(),
		ID:          id.NewOperationID(),
		Category:    src.Category,
		TenantID:    src.TenantID,
		Priority:    src.Priority,
		Payload:     append([]byte(nil), src.Payload...),
		State:       operation.StateQueued,
		MaxAttempts: src.MaxAttempts,
		Metadata:    metadata,
		EnqueuedAt:  now,
		Timeout:     src.Timeout,
	}
	// The idempotency key is not carried over: the original key would
	// short-circuit the replay as a duplicate within its TTL.

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return nil, err
	}
	return op, nil
}
