package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-rms/meridian-rms/internal/app"
	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	jobmetrics "github.com/meridian-rms/meridian-rms/internal/jobs"
	"github.com/meridian-rms/meridian-rms/internal/platform/cache"
	"github.com/meridian-rms/meridian-rms/internal/platform/db"
	"github.com/meridian-rms/meridian-rms/internal/rentals"
	"github.com/meridian-rms/meridian-rms/internal/reports"
	"github.com/meridian-rms/meridian-rms/internal/sales/customers"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	"github.com/meridian-rms/meridian-rms/internal/webhooks"
	"github.com/meridian-rms/meridian-rms/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Unlike the API, the worker cannot run without Redis: Asynq owns the
	// queue, so a dead broker means no work to process anyway.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	webhooksService := webhooks.NewService(webhooks.NewRepository(pool), jobsClient, auditLogger, logger, webhooks.Config{
		RequireHTTPS: cfg.IsProduction(),
		Timeout:      cfg.WebhookTimeout,
	})
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, webhooksService)
	reportsService := reports.NewService(reports.NewRepository(pool), reports.NewCache(redisClient, 10*time.Minute))

	// The overdue sweep emits rental.overdue events and charges late fees, so
	// it needs the same collaborators the API hands the rentals service.
	customersService := customers.NewService(customers.NewRepository(pool), auditLogger)
	catalogService := catalog.NewService(catalog.NewRepository(pool), auditLogger)
	rentalsService := rentals.NewService(rentals.NewRepository(pool), customersService, catalogService, inventoryService, idempotencyStore, auditLogger, webhooksService)

	deliverJob := jobs.NewWebhookDeliverJob(webhooksService, logger, metrics)
	overdueJob := jobs.NewOverdueScanJob(rentalsService, logger, metrics)
	recountJob := jobs.NewStockRecountJob(inventoryService, reportsService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	overdueTask, err := jobs.NewOverdueScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build overdue scan task", slog.Any("error", err))
		os.Exit(1)
	}
	recountTask, err := jobs.NewStockRecountTask(time.Now().UTC())
	if err != nil {
		logger.Error("build stock recount task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(48 * time.Hour)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWebhookDeliver, Handler: deliverJob.Handle},
			{Type: jobs.TaskOverdueScan, Handler: overdueJob.Handle},
			{Type: jobs.TaskStockRecount, Handler: recountJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: recountTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
