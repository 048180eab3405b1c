package grant

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	id "github.com/ebellera/SSO/pkg/domain"
)

const grantKeyPrefix = "grants:"

// RedisStore keeps each session's grant set as a Redis set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(sessionID id.SessionID) string {
	return s.prefix + grantKeyPrefix + sessionID.String()
}

func (s *RedisStore) Add(ctx context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error) {
	n, err := s.client.SAdd(ctx, s.key(sessionID), app.String()).Result()
	if err != nil {
		return false, fmt.Errorf("add grant: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Has(ctx context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(sessionID), app.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) List(ctx context.Context, sessionID id.SessionID) ([]id.ApplicationName, error) {
	members, err := s.client.SMembers(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	apps := make([]id.ApplicationName, 0, len(members))
	for _, m := range members {
		apps = append(apps, id.ApplicationName(m))
	}
	slices.Sort(apps)
	return apps, nil
}

// DeleteSession removes the grant set in one MULTI so the count matches what
// was deleted.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID id.SessionID) (int, error) {
	key := s.key(sessionID)
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		card = pipe.SCard(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete grants: %w", err)
	}
	return int(card.Val()), nil
}
