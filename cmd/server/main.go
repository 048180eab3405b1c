package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ebellera/SSO/internal/platform/config"
	"github.com/ebellera/SSO/internal/platform/httpserver"
	"github.com/ebellera/SSO/internal/platform/logger"
	platformmetrics "github.com/ebellera/SSO/internal/platform/metrics"
	"github.com/ebellera/SSO/internal/platform/middleware"
	redisclient "github.com/ebellera/SSO/internal/platform/redis"
	"github.com/ebellera/SSO/internal/sso/directory"
	"github.com/ebellera/SSO/internal/sso/handler"
	"github.com/ebellera/SSO/internal/sso/janitor"
	"github.com/ebellera/SSO/internal/sso/lockout"
	ssometrics "github.com/ebellera/SSO/internal/sso/metrics"
	"github.com/ebellera/SSO/internal/sso/service"
	"github.com/ebellera/SSO/internal/sso/signer"
	"github.com/ebellera/SSO/internal/sso/store/exchangetoken"
	"github.com/ebellera/SSO/internal/sso/store/grant"
	"github.com/ebellera/SSO/internal/sso/store/session"
	"github.com/ebellera/SSO/pkg/platform/audit/publisher"
	auditmemory "github.com/ebellera/SSO/pkg/platform/audit/store/memory"
	"github.com/ebellera/SSO/pkg/platform/httputil"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and keeps the server lifecycle small. Broker logic
// lives in internal/sso.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, closer := logger.New(cfg.Log)
	defer closer.Close()
	slog.SetDefault(log)

	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY is not set; using the development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := directory.LoadFile(cfg.RegistryFile)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	dir := directory.New(reg, log)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	brokerMetrics := ssometrics.New(promRegistry)

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}
	stores, pruner := buildStores(rc, cfg.Redis.KeyPrefix)
	log.Info("stores ready", "backend", backendName(rc))

	auditPublisher := publisher.NewPublisher(auditmemory.NewInMemoryStore(),
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(brokerMetrics),
		service.WithAuditPublisher(auditPublisher),
		service.WithExchangeTokenTTL(cfg.Auth.ExchangeTokenTTL),
	}

	var janitors []*janitor.Janitor
	if pruner != nil {
		tokenJanitor, err := janitor.New(pruner, cfg.Auth.PruneSchedule,
			janitor.WithLogger(log),
			janitor.WithMetrics(brokerMetrics),
		)
		if err != nil {
			return err
		}
		janitors = append(janitors, tokenJanitor)
	}

	if cfg.Auth.MaxLoginFailures > 0 {
		limiter, lockoutJanitor, err := buildLockout(rc, cfg, log)
		if err != nil {
			return err
		}
		opts = append(opts, service.WithLoginLimiter(limiter))
		if lockoutJanitor != nil {
			janitors = append(janitors, lockoutJanitor)
		}
	}

	svc, err := service.New(stores, dir, dir,
		signer.NewJWTSigner(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.AssertionTTL),
		opts...,
	)
	if err != nil {
		return err
	}

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("SSO_TRUSTED_PROXIES: %w", err)
	}

	router := chi.NewRouter()
	handler.New(svc, log, platformmetrics.NewHTTP(promRegistry), cfg.CookieSecure,
		handler.WithTrustedProxies(trustedProxies),
	).Register(router)
	router.Get("/healthz", healthHandler(rc))
	if cfg.Metric.Enabled {
		router.Handle(cfg.Metric.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting sso broker", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	for _, j := range janitors {
		g.Go(func() error {
			return j.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("sso broker stopped")
		return nil
	})
	return g.Wait()
}

// buildStores keeps broker state in Redis when it is configured so several
// replicas share sessions and pending handoffs; otherwise in process. The
// pruner is nil for Redis, whose keys expire on their own.
func buildStores(rc *redisclient.Client, prefix string) (service.Stores, janitor.Pruner) {
	if rc != nil {
		return service.Stores{
			Sessions: session.NewRedis(rc.Client, prefix),
			Grants:   grant.NewRedis(rc.Client, prefix),
			Tokens:   exchangetoken.NewRedis(rc.Client, prefix),
		}, nil
	}
	tokens := exchangetoken.New()
	return service.Stores{
		Sessions: session.New(),
		Grants:   grant.New(),
		Tokens:   tokens,
	}, tokens
}

// buildLockout returns the login limiter and, for the in-process store, the
// janitor that prunes its stale counters. Redis counters expire on their own.
func buildLockout(rc *redisclient.Client, cfg config.Server, log *slog.Logger) (*lockout.Limiter, *janitor.Janitor, error) {
	limits := lockout.WithConfig(lockout.Config{
		MaxFailures:  cfg.Auth.MaxLoginFailures,
		Window:       cfg.Auth.LoginFailureWindow,
		LockDuration: cfg.Auth.LoginLockDuration,
	})
	if rc != nil {
		limiter, err := lockout.New(lockout.NewRedis(rc.Client, cfg.Redis.KeyPrefix), limits, lockout.WithLogger(log))
		return limiter, nil, err
	}

	store := lockout.NewInMemoryStore()
	limiter, err := lockout.New(store, limits, lockout.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	j, err := janitor.New(store, cfg.Auth.PruneSchedule, janitor.WithLogger(log), janitor.WithName("login lockout"))
	if err != nil {
		return nil, nil, err
	}
	return limiter, j, nil
}

func backendName(rc *redisclient.Client) string {
	if rc != nil {
		return "redis"
	}
	return "memory"
}

func healthHandler(rc *redisclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rc.Health(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
