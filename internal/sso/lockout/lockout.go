// Package lockout slows password guessing. After MaxFailures failed logins
// for one email from one client address inside Window, that pair is refused
// for LockDuration.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

type Config struct {
	MaxFailures  int
	Window       time.Duration
	LockDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:  5,
		Window:       15 * time.Minute,
		LockDuration: 15 * time.Minute,
	}
}

// Store keeps failure counters per key.
type Store interface {
	// LockedUntil reports whether key is locked at now.
	LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error)
	// RecordFailure counts one failure and locks key once the count reaches
	// cfg.MaxFailures inside cfg.Window. A zero time means not locked.
	RecordFailure(ctx context.Context, key string, now time.Time, cfg Config) (time.Time, error)
	Clear(ctx context.Context, key string) error
}

type Limiter struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

type Option func(*Limiter)

func WithConfig(cfg Config) Option {
	return func(l *Limiter) {
		l.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	l := &Limiter{store: store, cfg: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.MaxFailures <= 0 || l.cfg.Window <= 0 || l.cfg.LockDuration <= 0 {
		return nil, errors.New("lockout limits must be positive")
	}
	return l, nil
}

// Key scopes counters to one email from one address, so a guesser cannot
// lock a user out from everywhere.
func Key(email, ip string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + ip
}

// Check fails with CodeRateLimited while the pair is locked.
func (l *Limiter) Check(ctx context.Context, email, ip string) error {
	_, locked, err := l.store.LockedUntil(ctx, Key(email, ip), requestcontext.Now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read login lockout")
	}
	if locked {
		return dErrors.New(dErrors.CodeRateLimited, "too many failed login attempts, try again later")
	}
	return nil
}

func (l *Limiter) RecordFailure(ctx context.Context, email, ip string) error {
	lockedUntil, err := l.store.RecordFailure(ctx, Key(email, ip), requestcontext.Now(ctx), l.cfg)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login failure")
	}
	if !lockedUntil.IsZero() {
		l.logger.WarnContext(ctx, "login locked after repeated failures",
			"locked_until", lockedUntil,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil
}

func (l *Limiter) Clear(ctx context.Context, email, ip string) error {
	if err := l.store.Clear(ctx, Key(email, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear login failures")
	}
	return nil
}
