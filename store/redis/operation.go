package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/governor"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// PutOperation stores the operation as a Hash and indexes its ID.
func (s *Store) PutOperation(ctx context.Context, op *operation.Operation) error {
	oID := op.ID.String()
	key := opKey(oID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: put operation exists: %w", err)
	}
	if exists > 0 {
		return governor.ErrDuplicateOperation
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, operationToMap(op))
	pipe.SAdd(ctx, opIDsKey, oID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: put operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID.
func (s *Store) GetOperation(ctx context.Context, opID id.OperationID) (*operation.Operation, error) {
	return s.getOperationByKey(ctx, opKey(opID.String()))
}

// UpdateOperation persists changes to an existing operation.
func (s *Store) UpdateOperation(ctx context.Context, op *operation.Operation) error {
	key := opKey(op.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: update operation exists: %w", err)
	}
	if exists == 0 {
		return governor.ErrOperationNotFound
	}

	fields := operationToMap(op)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.HSet(ctx, key, fields).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: update operation: %w", err)
	}
	return nil
}

// DeleteOperation removes an operation by ID.
func (s *Store) DeleteOperation(ctx context.Context, opID id.OperationID) error {
	oID := opID.String()
	key := opKey(oID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: delete operation exists: %w", err)
	}
	if exists == 0 {
		return governor.ErrOperationNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, opIDsKey, oID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: delete operation: %w", err)
	}
	return nil
}

// ListOperationsByState returns operations in the given state ordered by
// priority (ascending, most urgent first) then enqueue time.
func (s *Store) ListOperationsByState(ctx context.Context, state operation.State, opts operation.ListOpts) ([]*operation.Operation, error) {
	ids, err := s.client.SMembers(ctx, opIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/redis: list operations smembers: %w", err)
	}

	ops := make([]*operation.Operation, 0, len(ids))
	for _, oID := range ids {
		op, getErr := s.getOperationByKey(ctx, opKey(oID))
		if getErr != nil {
			continue // skip missing
		}
		if op.State != state {
			continue
		}
		if opts.Category != "" && op.Category != opts.Category {
			continue
		}
		if opts.TenantID != "" && op.TenantID != opts.TenantID {
			continue
		}
		ops = append(ops, op)
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt)
	})

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(ops) {
		ops = ops[opts.Offset:]
	} else if opts.Offset >= len(ops) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(ops) {
		ops = ops[:opts.Limit]
	}
	return ops, nil
}

// CountOperations returns the number of operations matching the options.
func (s *Store) CountOperations(ctx context.Context, opts operation.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, opIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("governor/redis: count operations smembers: %w", err)
	}

	var count int64
	for _, oID := range ids {
		op, getErr := s.getOperationByKey(ctx, opKey(oID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && op.State != opts.State {
			continue
		}
		if opts.Category != "" && op.Category != opts.Category {
			continue
		}
		if opts.TenantID != "" && op.TenantID != opts.TenantID {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func operationToMap(op *operation.Operation) map[string]interface{} {
	m := map[string]interface{}{
		"id":                op.ID.String(),
		"category":          op.Category,
		"tenant_id":         op.TenantID,
		"priority":          strconv.Itoa(op.Priority),
		"payload":           string(op.Payload),
		"state":             string(op.State),
		"attempt":           strconv.Itoa(op.Attempt),
		"max_attempts":      strconv.Itoa(op.MaxAttempts),
		"admission_retries": strconv.Itoa(op.AdmissionRetries),
		"last_error":        op.LastError,
		"idempotency_key":   op.IdempotencyKey,
		"metadata":          marshalJSON(op.Metadata),
		"enqueued_at":       op.EnqueuedAt.Format(time.RFC3339Nano),
		"timeout":           strconv.FormatInt(int64(op.Timeout), 10),
		"created_at":        op.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        op.UpdatedAt.Format(time.RFC3339Nano),
	}
	if op.StartedAt != nil {
		m["started_at"] = op.StartedAt.Format(time.RFC3339Nano)
	}
	if op.CompletedAt != nil {
		m["completed_at"] = op.CompletedAt.Format(time.RFC3339Nano)
	}
	if op.FirstFailedAt != nil {
		m["first_failed_at"] = op.FirstFailedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getOperationByKey(ctx context.Context, key string) (*operation.Operation, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, governor.ErrOperationNotFound
		}
		return nil, fmt.Errorf("governor/redis: get operation: %w", err)
	}
	if len(vals) == 0 {
		return nil, governor.ErrOperationNotFound
	}
	return mapToOperation(vals)
}

func mapToOperation(m map[string]string) (*operation.Operation, error) {
	oID, err := id.ParseOperationID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("governor/redis: parse operation id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                  //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	admissionRetries, _ := strconv.Atoi(m["admission_retries"]) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data

	enqueuedAt, _ := time.Parse(time.RFC3339Nano, m["enqueued_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	op := &operation.Operation{
		Entity: governor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:               oID,
		Category:         m["category"],
		TenantID:         m["tenant_id"],
		Priority:         priority,
		Payload:          []byte(m["payload"]),
		State:            operation.State(m["state"]),
		Attempt:          attempt,
		MaxAttempts:      maxAttempts,
		AdmissionRetries: admissionRetries,
		LastError:        m["last_error"],
		IdempotencyKey:   m["idempotency_key"],
		Metadata:         unmarshalMap(m["metadata"]),
		EnqueuedAt:       enqueuedAt,
		Timeout:          time.Duration(timeout),
	}

	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		op.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		op.CompletedAt = &t
	}
	if v := m["first_failed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		op.FirstFailedAt = &t
	}

	return op, nil
}

// marshalJSON is a helper to marshal to a JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
