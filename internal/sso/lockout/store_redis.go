package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a failure counter and a lock marker per key, both expiring
// natively.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix + "lockout:"}
}

func (s *RedisStore) failKey(key string) string { return s.prefix + "fail:" + key }
func (s *RedisStore) lockKey(key string) string { return s.prefix + "lock:" + key }

func (s *RedisStore) LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	ttl, err := s.client.PTTL(ctx, s.lockKey(key)).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read lockout: %w", err)
	}
	if ttl <= 0 {
		return time.Time{}, false, nil
	}
	return now.Add(ttl), true, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, now time.Time, cfg Config) (time.Time, error) {
	failKey := s.failKey(key)
	n, err := s.client.Incr(ctx, failKey).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("count login failure: %w", err)
	}
	if n == 1 {
		if err := s.client.PExpire(ctx, failKey, cfg.Window).Err(); err != nil {
			return time.Time{}, fmt.Errorf("expire login failures: %w", err)
		}
	}
	if n < int64(cfg.MaxFailures) {
		return time.Time{}, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.lockKey(key), now.Unix(), cfg.LockDuration)
		pipe.Del(ctx, failKey)
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("lock login: %w", err)
	}
	return now.Add(cfg.LockDuration), nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.failKey(key), s.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}
