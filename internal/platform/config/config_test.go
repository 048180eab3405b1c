package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, DefaultAddr, cfg.Addr)
		assert.Equal(t, DefaultExchangeTokenTTL, cfg.Auth.ExchangeTokenTTL)
		assert.Equal(t, DefaultPruneSchedule, cfg.Auth.PruneSchedule)
		assert.Empty(t, cfg.Redis.URL)
		assert.Equal(t, 5, cfg.Auth.MaxLoginFailures)
		assert.Equal(t, 15*time.Minute, cfg.Auth.LoginLockDuration)
		assert.True(t, cfg.UsesDevSigningKey())
		assert.Empty(t, cfg.TrustedProxies)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("SSO_ADDR", ":9999")
		t.Setenv("SSO_EXCHANGE_TOKEN_TTL", "45s")
		t.Setenv("SSO_COOKIE_SECURE", "true")
		t.Setenv("JWT_SIGNING_KEY", "prod-key")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("SSO_TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.7")

		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, ":9999", cfg.Addr)
		assert.Equal(t, 45*time.Second, cfg.Auth.ExchangeTokenTTL)
		assert.True(t, cfg.CookieSecure)
		assert.False(t, cfg.UsesDevSigningKey())
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
		assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.TrustedProxies)
	})

	t.Run("malformed values are reported", func(t *testing.T) {
		t.Setenv("SSO_EXCHANGE_TOKEN_TTL", "soon")
		t.Setenv("REDIS_POOL_SIZE", "many")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SSO_EXCHANGE_TOKEN_TTL")
		assert.Contains(t, err.Error(), "REDIS_POOL_SIZE")
	})

	t.Run("negative lockout threshold is rejected", func(t *testing.T) {
		t.Setenv("SSO_LOGIN_MAX_FAILURES", "-1")

		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("non-positive token ttl is rejected", func(t *testing.T) {
		t.Setenv("SSO_EXCHANGE_TOKEN_TTL", "0s")

		_, err := FromEnv()
		require.Error(t, err)
	})
}
