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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-grn/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-grn/internal/app"
	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/observability"
	"github.com/odyssey-erp/odyssey-grn/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-grn/internal/platform/db"
	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
	"github.com/odyssey-erp/odyssey-grn/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCLI(cfg, os.Args[2:]); err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.New(ctx, db.PoolOptions{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsClient := asynq.NewClient(asynqOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	procurementRepo := procurement.NewRepository(pool, inventory.NewLedger())
	procurementService := procurement.NewService(procurementRepo, procurement.Dependencies{
		Locker:    shared.NewRedisLocker(redisClient),
		LockTTL:   cfg.GRNLockTTL,
		Approvals: shared.NewApprovalRecorder(pool, logger),
		Audit:     shared.NewAuditLogger(pool),
		Events:    jobs.NewPublisher(jobsClient, cfg.JobsQueue),
		Metrics:   procurement.NewMetrics(metrics.Registerer()),
		Logger:    logger,
	})
	procurementHandler := procurement.NewHandler(logger, procurementService)

	inspector := asynq.NewInspector(asynqOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, cfg.JobsQueue, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurementHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Checks: map[string]app.HealthCheck{
			"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
			"redis":    func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func runJobsCLI(cfg *app.Config, args []string) error {
	opts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := asynq.NewClient(opts)
	defer client.Close()
	inspector := asynq.NewInspector(opts)
	defer inspector.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cli.NewJobsCLI(client, inspector, cfg.JobsQueue).Run(ctx, args, os.Stdout); err != nil {
		return fmt.Errorf("jobs %v: %w", args, err)
	}
	return nil
}
