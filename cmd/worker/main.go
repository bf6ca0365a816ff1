package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/bottlekeep/bottlekeep/internal/app"
	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/expiry"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/notify"
	"github.com/bottlekeep/bottlekeep/internal/observability"
	"github.com/bottlekeep/bottlekeep/internal/platform/cache"
	"github.com/bottlekeep/bottlekeep/internal/platform/db"
	"github.com/bottlekeep/bottlekeep/internal/stores"
	"github.com/bottlekeep/bottlekeep/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	notifier := notify.NewNotifier(asynqClient, logger)
	feed := live.NewFeed(redisClient, logger)
	recorder := audit.NewRecorder(dbpool)

	storesService := stores.NewService(stores.NewRepository(dbpool))
	depositsRepo := deposits.NewRepository(dbpool)
	depositsService := deposits.NewService(logger, depositsRepo, recorder, notifier, feed)

	sweeper := expiry.NewSweeper(logger, depositsService, storesService)
	sweepHandler := jobs.NewSweepHandler(logger, sweeper, metrics)
	pushHandler := jobs.NewPushHandler(logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeExpirySweep, Handler: sweepHandler.Handle},
			{Type: notify.TaskTypePush, Handler: pushHandler.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: jobs.NewExpirySweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
