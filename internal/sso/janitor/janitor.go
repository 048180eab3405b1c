// Package janitor prunes expired broker state on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ebellera/SSO/internal/sso/metrics"
)

// Pruner deletes entries that expired as of now and reports how many.
type Pruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Janitor runs Pruner.DeleteExpired on a schedule. Expired entries are
// already inert; pruning only bounds memory.
type Janitor struct {
	cron    *cron.Cron
	pruner  Pruner
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	name    string
}

type Option func(*Janitor)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		j.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Janitor) {
		j.metrics = m
	}
}

// WithName labels log lines, e.g. "login lockout".
func WithName(name string) Option {
	return func(j *Janitor) {
		j.name = name
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		j.now = now
	}
}

// New schedules pruning with a standard cron spec or descriptor such as
// "@every 30s". An invalid schedule is an error.
func New(pruner Pruner, schedule string, opts ...Option) (*Janitor, error) {
	j := &Janitor{
		cron:   cron.New(),
		pruner: pruner,
		logger: slog.Default(),
		now:    time.Now,
		name:   "exchange tokens",
	}
	for _, opt := range opts {
		opt(j)
	}
	if _, err := j.cron.AddFunc(schedule, j.tick); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	n, err := j.pruner.DeleteExpired(ctx, j.now())
	if err != nil {
		return 0, err
	}
	j.metrics.AddTokensPruned(n)
	return n, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running prune to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	j.logger.Info("janitor started", "janitor", j.name)
	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped", "janitor", j.name)
	return nil
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("failed to prune expired entries", "janitor", j.name, "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("pruned expired entries", "janitor", j.name, "count", n)
	}
}
