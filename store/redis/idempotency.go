package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/governor"
	"github.com/xraph/governor/idempotency"
)

// PutIdempotencyIfAbsent inserts the record if the (tenant, key) pair is
// unseen. SETNX makes the first-sight check-and-insert a single atomic
// step against Redis. An expired record counts as absent: it is
// overwritten in place, which briefly relaxes atomicity for concurrent
// submitters racing over an already-expired key.
func (s *Store) PutIdempotencyIfAbsent(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	key := idemKey(rec.TenantID, rec.Key)

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("governor/redis: marshal idempotency record: %w", err)
	}

	inserted, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("governor/redis: put idempotency setnx: %w", err)
	}
	if inserted {
		if err := s.client.SAdd(ctx, idemMembersKey, idemMember(rec.TenantID, rec.Key)).Err(); err != nil {
			return nil, false, fmt.Errorf("governor/redis: index idempotency member: %w", err)
		}
		return nil, true, nil
	}

	existing, err := s.getIdempotencyByKey(ctx, key)
	if err != nil {
		if errors.Is(err, governor.ErrIdempotencyNotFound) {
			// The holder vanished between SETNX and GET. Treat as absent.
			return s.PutIdempotencyIfAbsent(ctx, rec)
		}
		return nil, false, err
	}

	if existing.Expired(time.Now().UTC()) {
		if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
			return nil, false, fmt.Errorf("governor/redis: replace expired idempotency: %w", err)
		}
		return nil, true, nil
	}
	return existing, false, nil
}

// GetIdempotency retrieves the record for a (tenant, key) pair.
func (s *Store) GetIdempotency(ctx context.Context, tenantID, key string) (*idempotency.Record, error) {
	return s.getIdempotencyByKey(ctx, idemKey(tenantID, key))
}

// UpdateIdempotencyFingerprint sets the fingerprint on an existing record.
func (s *Store) UpdateIdempotencyFingerprint(ctx context.Context, tenantID, key, fingerprint string) error {
	rKey := idemKey(tenantID, key)
	rec, err := s.getIdempotencyByKey(ctx, rKey)
	if err != nil {
		return err
	}

	rec.Fingerprint = fingerprint
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("governor/redis: marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, rKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("governor/redis: update idempotency fingerprint: %w", err)
	}
	return nil
}

// DeleteIdempotency removes a single record. Unknown records are ignored.
func (s *Store) DeleteIdempotency(ctx context.Context, tenantID, key string) error {
	member := idemMember(tenantID, key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, idemKey(tenantID, key))
	pipe.SRem(ctx, idemMembersKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("governor/redis: delete idempotency: %w", err)
	}
	return nil
}

// DeleteExpiredIdempotency removes records that expired before now.
func (s *Store) DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	members, err := s.client.SMembers(ctx, idemMembersKey).Result()
	if err != nil {
		return 0, fmt.Errorf("governor/redis: sweep idempotency smembers: %w", err)
	}

	var deleted int64
	for _, member := range members {
		rKey := keyPrefix + "idem:" + member
		rec, getErr := s.getIdempotencyByKey(ctx, rKey)
		if getErr != nil {
			if errors.Is(getErr, governor.ErrIdempotencyNotFound) {
				// Stale index member.
				_ = s.client.SRem(ctx, idemMembersKey, member).Err() //nolint:errcheck // index cleanup is best effort
				continue
			}
			return deleted, getErr
		}
		if !rec.Expired(now) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, rKey)
		pipe.SRem(ctx, idemMembersKey, member)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return deleted, fmt.Errorf("governor/redis: sweep idempotency del: %w", pErr)
		}
		deleted++
	}
	return deleted, nil
}

// ── helpers ──

func (s *Store) getIdempotencyByKey(ctx context.Context, key string) (*idempotency.Record, error) {
	payload, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, governor.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("governor/redis: get idempotency: %w", err)
	}

	var rec idempotency.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("governor/redis: unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}
