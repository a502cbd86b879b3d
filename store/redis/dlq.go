package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// PushDLQ adds a dead letter entry and indexes its ID.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	key := dlqKey(eID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching the options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Category != "" && (e.Operation == nil || e.Operation.Category != opts.Category) {
			continue
		}
		if opts.TenantID != "" && (e.Operation == nil || e.Operation.TenantID != opts.TenantID) {
			continue
		}
		if opts.Reason != "" && e.Reason != opts.Reason {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	key := dlqKey(entryID.String())
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, governor.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed and increments its replay count.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return governor.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "replayed_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.HIncrBy(ctx, key, "replay_count", 1)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: replay dlq: %w", err)
	}
	return nil
}

// DeleteDLQ removes a DLQ entry by ID.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	eID := entryID.String()
	key := dlqKey(eID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("governor/redis: delete dlq exists: %w", err)
	}
	if exists == 0 {
		return governor.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, dlqIDsKey, eID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: delete dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries whose ExpiresAt is before the given time.
// Entries without an expiry are never purged.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("governor/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		expiresStr, getErr := s.client.HGet(ctx, key, "expires_at").Result()
		if getErr != nil || expiresStr == "" {
			continue
		}

		expiresAt, _ := time.Parse(time.RFC3339Nano, expiresStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if !expiresAt.IsZero() && expiresAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("governor/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("governor/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	// The operation snapshot is stored as one JSON field: entries are
	// written once and read whole, never partially updated.
	opJSON, _ := json.Marshal(e.Operation) //nolint:errcheck // operation snapshots marshal cleanly

	m := map[string]interface{}{
		"id":              e.ID.String(),
		"operation":       string(opJSON),
		"reason":          string(e.Reason),
		"error":           e.Error,
		"first_failed_at": e.FirstFailedAt.Format(time.RFC3339Nano),
		"replay_count":    strconv.Itoa(e.ReplayCount),
		"created_at":      e.CreatedAt.Format(time.RFC3339Nano),
	}
	if !e.ExpiresAt.IsZero() {
		m["expires_at"] = e.ExpiresAt.Format(time.RFC3339Nano)
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("governor/redis: parse dlq id: %w", err)
	}

	replayCount, _ := strconv.Atoi(m["replay_count"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	firstFailedAt, _ := time.Parse(time.RFC3339Nano, m["first_failed_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])          //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:            eID,
		Reason:        dlq.Reason(m["reason"]),
		Error:         m["error"],
		FirstFailedAt: firstFailedAt,
		ReplayCount:   replayCount,
		CreatedAt:     createdAt,
	}

	if v := m["operation"]; v != "" && v != "null" {
		var op operation.Operation
		if uErr := json.Unmarshal([]byte(v), &op); uErr == nil {
			e.Operation = &op
		}
	}
	if v := m["expires_at"]; v != "" {
		e.ExpiresAt, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
