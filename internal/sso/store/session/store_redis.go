package session

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

const sessionKeyPrefix = "sess:"

type sessionRecord struct {
	ID        string    `json:"id"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore persists global sessions as JSON values. Sessions carry no TTL;
// they live until logout.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a Redis-backed session store. keyPrefix namespaces every
// key so several brokers can share one database.
func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(sessionID id.SessionID) string {
	return s.prefix + sessionKeyPrefix + sessionID.String()
}

func (s *RedisStore) Create(ctx context.Context, session *models.GlobalSession) error {
	data, err := json.Marshal(sessionRecord{
		ID:        session.ID.String(),
		UserEmail: session.UserEmail,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(session.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return fmt.Errorf("session %s already exists: %w", session.ID, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.GlobalSession, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	parsed, err := id.ParseSessionID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("stored session id: %w", err)
	}
	return &models.GlobalSession{
		ID:        parsed,
		UserEmail: rec.UserEmail,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID id.SessionID) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}
