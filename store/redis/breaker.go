package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/breaker"
)

// SaveBreaker upserts the persisted state for a breaker key. Last write
// wins across instances.
func (s *Store) SaveBreaker(ctx context.Context, st *breaker.Status) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, breakerKey(st.Key), breakerToMap(st))
	pipe.SAdd(ctx, breakerKeysKey, st.Key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: save breaker: %w", err)
	}
	return nil
}

// GetBreaker retrieves the persisted state for one key.
func (s *Store) GetBreaker(ctx context.Context, key string) (*breaker.Status, error) {
	vals, err := s.client.HGetAll(ctx, breakerKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/redis: get breaker: %w", err)
	}
	if len(vals) == 0 {
		return nil, governor.ErrBreakerNotFound
	}
	return mapToBreaker(vals), nil
}

// ListBreakers returns all persisted breaker states sorted by key.
func (s *Store) ListBreakers(ctx context.Context) ([]*breaker.Status, error) {
	keys, err := s.client.SMembers(ctx, breakerKeysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/redis: list breakers: %w", err)
	}

	statuses := make([]*breaker.Status, 0, len(keys))
	for _, key := range keys {
		vals, getErr := s.client.HGetAll(ctx, breakerKey(key)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		statuses = append(statuses, mapToBreaker(vals))
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses, nil
}

// DeleteBreaker removes the persisted state for a key. Deleting an
// unknown key is not an error.
func (s *Store) DeleteBreaker(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, breakerKey(key))
	pipe.SRem(ctx, breakerKeysKey, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/redis: delete breaker: %w", err)
	}
	return nil
}

// ── helpers ──

func breakerToMap(st *breaker.Status) map[string]interface{} {
	return map[string]interface{}{
		"key":        st.Key,
		"state":      string(st.State),
		"failures":   strconv.Itoa(st.Failures),
		"cooldown":   strconv.FormatInt(int64(st.Cooldown), 10),
		"opened_at":  st.OpenedAt.Format(time.RFC3339Nano),
		"expires_at": st.ExpiresAt.Format(time.RFC3339Nano),
		"updated_at": st.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToBreaker(m map[string]string) *breaker.Status {
	failures, _ := strconv.Atoi(m["failures"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	cooldown, _ := strconv.ParseInt(m["cooldown"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data
	openedAt, _ := time.Parse(time.RFC3339Nano, m["opened_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	expiresAt, _ := time.Parse(time.RFC3339Nano, m["expires_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &breaker.Status{
		Key:       m["key"],
		State:     breaker.State(m["state"]),
		Failures:  failures,
		Cooldown:  time.Duration(cooldown),
		OpenedAt:  openedAt,
		ExpiresAt: expiresAt,
		UpdatedAt: updatedAt,
	}
}
