// Package cli provides the initialization shared by cmd/finrank,
// cmd/finrank-worker and cmd/rankctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finrank/internal/backend"
	"finrank/internal/catalog"
	"finrank/internal/config"
	"finrank/internal/core"
	"finrank/internal/log"
	"finrank/internal/metrics"
	"finrank/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadAndValidateConfig for long-running processes: it exits
// on failure.
func MustLoadConfig(logger *log.Logger) *config.Config {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

type RuntimeOptions struct {
	Factory backend.Factory
	Metrics *metrics.Metrics
	// Archive wires the season archiver. Only the process that ticks seasons
	// needs it.
	Archive bool
	// Now is the clock used to open the first season (default: time.Now)
	Now func() time.Time
}

// Runtime is the ranking engine wired to its configured backends.
type Runtime struct {
	Config  *config.Config
	Backend backend.Backend
	Cache   services.LeaderboardCache
	Catalog *catalog.Catalog
	Rules   core.Rules
	Metrics *metrics.Metrics
	Holder  *services.SeasonHolder
	Ranking *services.RankingService
	Seasons *services.SeasonManager

	checks   map[string]func(context.Context) error
	cleanups []backend.CleanupFunc
}

// NewRuntime opens the storage backend and cache, loads the catalog and the
// current season. Close releases everything it opened.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (_ *Runtime, err error) {
	if opts.Factory == nil {
		opts.Factory = backend.NewFactory(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rt := &Runtime{Config: cfg, Metrics: opts.Metrics, checks: make(map[string]func(context.Context) error)}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	rt.Rules = rules

	if rt.Catalog, err = catalog.Load(cfg.CatalogPath); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := opts.Factory.CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	rt.Backend = store.Backend
	rt.addCleanup(store.Cleanup)
	rt.checks["storage"] = store.Backend.Ping

	cache, err := opts.Factory.CreateCache(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	rt.Cache = cache.Cache
	rt.addCleanup(cache.Cleanup)
	if cache.Ping != nil {
		rt.checks["cache"] = cache.Ping
	}

	locks := services.NewKeyedMutex(0)
	rt.Holder = services.NewSeasonHolder(core.Season{})

	seasonOpts := []services.SeasonOption{
		services.WithSeasonCache(rt.Cache),
		services.WithSeasonMetrics(rt.Metrics),
	}
	if opts.Archive {
		archiver, err := opts.Factory.CreateArchiver(ctx, bcfg)
		if err != nil {
			return nil, err
		}
		if archiver != nil {
			seasonOpts = append(seasonOpts, services.WithArchiver(archiver))
		}
	}
	rt.Seasons = services.NewSeasonManager(rt.Backend, rt.Holder, locks, rules, cfg.SeasonConfig(), seasonOpts...)

	season, err := rt.Seasons.Init(ctx, opts.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("init season: %w", err)
	}

	rt.Ranking = services.NewRankingService(rt.Backend, rt.Holder, rt.Catalog, rules,
		services.WithLocks(locks),
		services.WithLeaderboardCache(rt.Cache),
		services.WithMetrics(rt.Metrics),
		services.WithSeasonRefresh(rt.Seasons),
	)

	slog.InfoContext(ctx, "Ranking runtime ready",
		"storage_backend", bcfg.Type,
		"cache_backend", bcfg.Cache,
		"season", season.Number,
		"season_status", season.Status,
		"season_end_at", season.EndAt,
		"badges", len(rt.Catalog.Badges),
		"achievements", len(rt.Catalog.Achievements))
	return rt, nil
}

func (rt *Runtime) addCleanup(fn backend.CleanupFunc) {
	if fn != nil {
		rt.cleanups = append(rt.cleanups, fn)
	}
}

// AddCheck registers an extra readiness check, such as the AMQP connection.
func (rt *Runtime) AddCheck(name string, check func(context.Context) error) {
	rt.checks[name] = check
}

func (rt *Runtime) Checks() map[string]func(context.Context) error {
	return rt.checks
}

// Close releases the backends in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for _, fn := range slices.Backward(rt.cleanups) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.cleanups = nil
	return errors.Join(errs...)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
