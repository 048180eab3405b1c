package exchangetoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
)

const (
	tokenKeyPrefix = "xt:"
	indexKeyPrefix = "xs:"
)

type tokenRecord struct {
	SessionID   string    `json:"session_id"`
	Application string    `json:"application"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RedisStore keeps each token under its own key with a native TTL, plus a
// per-session set of token values for logout revocation. Expiry is enforced
// by Redis, so no janitor runs against it.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a Redis-backed exchange token store.
func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) tokenKey(token string) string {
	return s.prefix + tokenKeyPrefix + token
}

func (s *RedisStore) indexKey(sessionID id.SessionID) string {
	return s.prefix + indexKeyPrefix + sessionID.String()
}

func (s *RedisStore) Create(ctx context.Context, token *models.ExchangeToken) error {
	ttl := token.ExpiresAt.Sub(token.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("exchange token has no lifetime: %w", sentinel.ErrExpired)
	}
	data, err := json.Marshal(tokenRecord{
		SessionID:   token.SessionID.String(),
		Application: token.Application.String(),
		CreatedAt:   token.CreatedAt,
		ExpiresAt:   token.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal exchange token: %w", err)
	}

	key := s.tokenKey(token.Token)
	idx := s.indexKey(token.SessionID)
	var set *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetNX(ctx, key, data, ttl)
		pipe.SAdd(ctx, idx, token.Token)
		pipe.PExpire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create exchange token: %w", err)
	}
	if !set.Val() {
		return fmt.Errorf("exchange token collision: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, token string, now time.Time) (*models.ExchangeToken, error) {
	record, err := s.load(ctx, s.client, token)
	if err != nil {
		return nil, err
	}
	if record.IsExpired(now) {
		return nil, fmt.Errorf("exchange token expired: %w", sentinel.ErrExpired)
	}
	return record, nil
}

// Consume uses WATCH on the token key: if another redeemer deletes it between
// our read and our MULTI, the transaction aborts and we report ErrAlreadyUsed.
func (s *RedisStore) Consume(ctx context.Context, token string, now time.Time, validate ValidateFunc) (*models.ExchangeToken, error) {
	key := s.tokenKey(token)
	var consumed *models.ExchangeToken

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, token)
		if err != nil {
			return err
		}
		if record.IsExpired(now) {
			return fmt.Errorf("exchange token expired: %w", sentinel.ErrExpired)
		}
		if validate != nil {
			if err := validate(record); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(record.SessionID), token)
			return nil
		})
		if err != nil {
			return err
		}
		consumed = record
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("exchange token consumed concurrently: %w", sentinel.ErrAlreadyUsed)
	}
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

func (s *RedisStore) DeleteBySession(ctx context.Context, sessionID id.SessionID) (int, error) {
	idx := s.indexKey(sessionID)
	tokens, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("list session exchange tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, s.tokenKey(t))
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.Del(ctx, idx)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete session exchange tokens: %w", err)
	}
	return int(del.Val()), nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, token string) (*models.ExchangeToken, error) {
	data, err := c.Get(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load exchange token: %w", err)
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal exchange token: %w", err)
	}
	sid, err := id.ParseSessionID(rec.SessionID)
	if err != nil {
		return nil, fmt.Errorf("stored session id: %w", err)
	}
	return &models.ExchangeToken{
		Token:       token,
		SessionID:   sid,
		Application: id.ApplicationName(rec.Application),
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}
