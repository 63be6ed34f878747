package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"finrank/internal/amqp"
	"finrank/internal/cli"
	apphttp "finrank/internal/http"
	"finrank/internal/log"
	"finrank/internal/metrics"
	"finrank/internal/scheduler"
)

const seasonRefreshInterval = time.Minute

func main() {
	cli.LoadEnvFile()

	logger := log.Setup(slog.LevelInfo, log.ComponentApp)
	cfg := cli.MustLoadConfig(logger)
	logger = log.Setup(cfg.LogLevel, log.ComponentApp)

	logger.Info("Starting finrank server", "port", cfg.Port, "storage_backend", cfg.StorageBackend)

	bootCtx := context.Background()
	m := metrics.New()
	rt, err := cli.NewRuntime(bootCtx, cfg, cli.RuntimeOptions{Metrics: m})
	if err != nil {
		logger.Error("Failed to initialize ranking runtime", log.FieldError, err)
		os.Exit(1)
	}

	// Events are queued for the worker when a broker is configured.
	var publisher apphttp.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(bootCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			_ = rt.Close()
			os.Exit(1)
		}
		publisher = amqpClient
		rt.AddCheck("amqp", func(context.Context) error { return amqpClient.Ping() })
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - score events are applied in-process")
	}

	checks := make(map[string]apphttp.Check, len(rt.Checks()))
	for name, check := range rt.Checks() {
		checks[name] = check
	}

	srv := apphttp.NewServer(":"+cfg.Port, rt.Ranking, apphttp.Options{
		Publisher:              publisher,
		Metrics:                m,
		Logger:                 logger.WithComponent(log.ComponentHTTP),
		WriteRequestsPerMinute: cfg.RateLimitRequestsPerMinute,
		ReadinessChecks:        checks,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 15 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := rt.Close(); err != nil {
			logger.Warn("Runtime close error", log.FieldError, err)
		}
	})

	// The worker closes seasons; this process only follows them.
	follower, err := scheduler.NewFollower(ctx, rt.Seasons, seasonRefreshInterval)
	if err != nil {
		logger.Error("Failed to schedule season refresh", log.FieldError, err)
		os.Exit(1)
	}
	follower.Start()
	defer func() { _ = follower.Stop() }()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
