package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-grn/internal/app"
	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-grn/internal/jobs"
	"github.com/odyssey-erp/odyssey-grn/internal/platform/db"
	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
	"github.com/odyssey-erp/odyssey-grn/jobs"
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

	pool, err := db.New(ctx, db.PoolOptions{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The scan only reads GRNs; no locker or event publisher is needed here.
	procurementService := procurement.NewService(
		procurement.NewRepository(pool, inventory.NewLedger()),
		procurement.Dependencies{Logger: logger},
	)

	metrics := jobmetrics.NewMetrics(nil)
	notifyJob := jobs.NewNotifyJob(jobs.LogNotifier{Logger: logger}, cfg.NotificationLocale, logger, metrics)
	returnJob := jobs.NewVendorReturnJob(jobs.LogReturnSink{Logger: logger}, logger, metrics)
	scanJob := jobs.NewExcessScanJob(procurementService, logger, metrics)

	scanTask, err := jobs.NewExcessScanTask(cfg.ExcessScanLimit)
	if err != nil {
		logger.Error("build excess scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Queue:       cfg.JobsQueue,
		Concurrency: cfg.JobsConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGRNNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskGRNVendorReturn, Handler: returnJob.Handle},
			{Type: jobs.TaskGRNExcessScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExcessScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
