//go:build integration

// Package containers starts throwaway backing services for the integration
// suite. One container per service is shared by every test in the process.
package containers

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a running Redis with a connected client.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

var (
	redisOnce   sync.Once
	redisShared *RedisContainer
	redisErr    error
)

// Redis returns the process-wide Redis container, starting it on first use.
// Ryuk reaps it when the test binary exits.
func Redis(t *testing.T) *RedisContainer {
	t.Helper()
	redisOnce.Do(func() {
		redisShared, redisErr = startRedis(context.Background())
	})
	if redisErr != nil {
		t.Fatalf("redis container: %v", redisErr)
	}
	return redisShared
}

func startRedis(ctx context.Context) (*RedisContainer, error) {
	container, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		return nil, err
	}

	connURL, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	opts, err := redis.ParseURL(connURL)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	return &RedisContainer{Container: container, URL: connURL, Client: client}, nil
}

// Reset flushes every key so each test starts empty.
func (r *RedisContainer) Reset(t *testing.T) {
	t.Helper()
	if err := r.Client.FlushAll(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
}
