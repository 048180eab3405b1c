package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Static broker data (users,
// applications, allow-list) lives in the registry file named by RegistryFile.
type Server struct {
	Addr         string
	RegistryFile string
	CookieSecure bool
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty trusts nobody.
	TrustedProxies []string

	Auth   AuthConfig
	Log    LogConfig
	Redis  RedisConfig
	Metric MetricsConfig
}

// AuthConfig holds assertion signing and exchange-token lifetimes.
type AuthConfig struct {
	JWTSigningKey    string
	Issuer           string
	AssertionTTL     time.Duration
	ExchangeTokenTTL time.Duration
	// PruneSchedule is a cron spec for the expired exchange-token janitor.
	PruneSchedule string

	// Failed-login lockout per email and client address. Zero MaxLoginFailures
	// disables it.
	MaxLoginFailures   int
	LoginFailureWindow time.Duration
	LoginLockDuration  time.Duration
}

// LogConfig selects the slog handler. File enables lumberjack rotation.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// RedisConfig configures the optional Redis exchange-token cache. An empty URL
// keeps the cache in process.
type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Defaults applied when the environment is silent.
const (
	DefaultAddr             = ":3010"
	DefaultRegistryFile     = "config/registry.yaml"
	DefaultIssuer           = "simple-sso"
	DefaultAssertionTTL     = time.Hour
	DefaultExchangeTokenTTL = 2 * time.Minute
	DefaultPruneSchedule    = "@every 30s"
	devSigningKey           = "dev-secret-key-change-in-production"
)

// FromEnv builds a Server config from environment variables so main stays
// lean. Malformed durations, integers or booleans are reported, not ignored.
func FromEnv() (Server, error) {
	var errs envErrors

	cfg := Server{
		Addr:           getEnv("SSO_ADDR", DefaultAddr),
		RegistryFile:   getEnv("SSO_REGISTRY_FILE", DefaultRegistryFile),
		CookieSecure:   errs.boolean("SSO_COOKIE_SECURE", false),
		TrustedProxies: splitList(os.Getenv("SSO_TRUSTED_PROXIES")),
		Auth: AuthConfig{
			// Use a default for development - should be overridden in production
			JWTSigningKey:    getEnv("JWT_SIGNING_KEY", devSigningKey),
			Issuer:           getEnv("SSO_ISSUER", DefaultIssuer),
			AssertionTTL:     errs.duration("SSO_ASSERTION_TTL", DefaultAssertionTTL),
			ExchangeTokenTTL: errs.duration("SSO_EXCHANGE_TOKEN_TTL", DefaultExchangeTokenTTL),
			PruneSchedule:    getEnv("SSO_PRUNE_SCHEDULE", DefaultPruneSchedule),

			MaxLoginFailures:   errs.integer("SSO_LOGIN_MAX_FAILURES", 5),
			LoginFailureWindow: errs.duration("SSO_LOGIN_FAILURE_WINDOW", 15*time.Minute),
			LoginLockDuration:  errs.duration("SSO_LOGIN_LOCK_DURATION", 15*time.Minute),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  errs.integer("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: errs.integer("LOG_FILE_MAX_BACKUPS", 3),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "sso:"),
			PoolSize:     errs.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: errs.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  errs.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  errs.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: errs.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Metric: MetricsConfig{
			Enabled: errs.boolean("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Auth.ExchangeTokenTTL <= 0 {
		errs = append(errs, errors.New("SSO_EXCHANGE_TOKEN_TTL must be positive"))
	}
	if cfg.Auth.AssertionTTL <= 0 {
		errs = append(errs, errors.New("SSO_ASSERTION_TTL must be positive"))
	}
	if cfg.Auth.MaxLoginFailures < 0 {
		errs = append(errs, errors.New("SSO_LOGIN_MAX_FAILURES must not be negative"))
	}
	if len(errs) > 0 {
		return Server{}, errs
	}
	return cfg, nil
}

// UsesDevSigningKey reports whether JWT_SIGNING_KEY was left unset.
func (s Server) UsesDevSigningKey() bool {
	return s.Auth.JWTSigningKey == devSigningKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList reads a comma-separated value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type envErrors []error

func (e envErrors) Error() string {
	msg := "invalid configuration:"
	for _, err := range e {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *envErrors) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e = append(*e, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (e *envErrors) integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e = append(*e, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (e *envErrors) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e = append(*e, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
