package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bottlekeep/bottlekeep/internal/app"
	"github.com/bottlekeep/bottlekeep/internal/audit"
	"github.com/bottlekeep/bottlekeep/internal/deposits"
	"github.com/bottlekeep/bottlekeep/internal/importer"
	"github.com/bottlekeep/bottlekeep/internal/live"
	"github.com/bottlekeep/bottlekeep/internal/notify"
	"github.com/bottlekeep/bottlekeep/internal/observability"
	"github.com/bottlekeep/bottlekeep/internal/platform/cache"
	"github.com/bottlekeep/bottlekeep/internal/platform/db"
	"github.com/bottlekeep/bottlekeep/internal/stores"
	"github.com/bottlekeep/bottlekeep/internal/transfers"
	"github.com/bottlekeep/bottlekeep/internal/withdrawals"
	"github.com/bottlekeep/bottlekeep/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	storesRepo := stores.NewRepository(dbpool)
	storesService := stores.NewService(storesRepo)
	storesHandler := stores.NewHandler(logger, storesService)

	depositsRepo := deposits.NewRepository(dbpool)
	depositsService := deposits.NewService(logger, depositsRepo, recorder, notifier, feed)
	depositsHandler := deposits.NewHandler(logger, depositsService)

	withdrawalsRepo := withdrawals.NewRepository(dbpool)
	withdrawalsService := withdrawals.NewService(logger, withdrawalsRepo, recorder, notifier, feed)
	withdrawalsHandler := withdrawals.NewHandler(logger, withdrawalsService)

	transfersRepo := transfers.NewRepository(dbpool)
	transfersService := transfers.NewService(logger, transfersRepo, storesService, recorder, feed)
	transfersHandler := transfers.NewHandler(logger, transfersService)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	imp := importer.New(logger, depositsRepo, recorder)
	importHandler := importer.NewHandler(logger, imp)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StoresHandler:      storesHandler,
		DepositsHandler:    depositsHandler,
		WithdrawalsHandler: withdrawalsHandler,
		TransfersHandler:   transfersHandler,
		AuditHandler:       auditHandler,
		ImportHandler:      importHandler,
		JobsHandler:        jobsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
