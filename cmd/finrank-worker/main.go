package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"finrank/internal/amqp"
	"finrank/internal/cli"
	"finrank/internal/log"
	"finrank/internal/scheduler"
	"finrank/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := log.Setup(slog.LevelInfo, log.ComponentWorker)
	cfg := cli.MustLoadConfig(logger)
	logger = log.Setup(cfg.LogLevel, log.ComponentWorker)

	logger.Info("Starting finrank-worker", "season_cron", cfg.SeasonCron, "storage_backend", cfg.StorageBackend)

	bootCtx := context.Background()
	rt, err := cli.NewRuntime(bootCtx, cfg, cli.RuntimeOptions{Archive: true})
	if err != nil {
		logger.Error("Failed to initialize ranking runtime", log.FieldError, err)
		os.Exit(1)
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(bootCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			_ = rt.Close()
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP disabled - worker only runs the season scheduler")
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	sched, err := scheduler.New(runCtx, rt.Seasons, cfg.SeasonCron)
	if err != nil {
		logger.Error("Failed to schedule season tick", log.FieldError, err)
		stopRun()
		_ = rt.Close()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		stopRun()
		if err := sched.Stop(); err != nil {
			logger.Warn("Scheduler stop error", log.FieldError, err)
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

	sched.Start()

	if amqpClient != nil {
		events := worker.NewEventWorker(rt.Ranking)
		go func() {
			err := amqpClient.ConsumeScoreEvents(ctx, events.HandleScoreEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
