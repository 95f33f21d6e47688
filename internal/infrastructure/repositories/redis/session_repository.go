package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries when both peers mutate the
// same session in the same instant.
const maxTxRetries = 8

// RedisSessionRepository persists rendezvous state as one JSON blob per
// session with the key TTL refreshed on every write, so redis itself enforces
// the inactivity expiry. Read-modify-write runs under WATCH so near-
// simultaneous writes from both peers never lose an update.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "pairlink:session:",
		ttl:    ttl,
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) Put(ctx context.Context, id domain.SessionID, mutate ports.SessionMutator) error {
	key := r.sessionKey(id)

	txf := func(tx *redis.Tx) error {
		var sess *domain.Session
		found := false

		data, err := tx.Get(ctx, key).Result()
		switch {
		case err == nil:
			sess = &domain.Session{}
			if err := json.Unmarshal([]byte(data), sess); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			found = true
		case errors.Is(err, redis.Nil):
			// treated as never created
		default:
			return fmt.Errorf("failed to get session from Redis: %w", err)
		}

		updated, err := mutate(sess, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if updated == nil {
				pipe.Del(ctx, key)
				return nil
			}
			blob, err := json.Marshal(updated)
			if err != nil {
				return fmt.Errorf("failed to marshal session: %w", err)
			}
			pipe.Set(ctx, key, blob, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session %s: optimistic lock retries exhausted", id)
}

func (r *RedisSessionRepository) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Sweep is a no-op: the per-key TTL set on every write already removes idle
// sessions server-side.
func (r *RedisSessionRepository) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (r *RedisSessionRepository) Count(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
