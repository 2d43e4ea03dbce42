package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/salespulse/salespulse/cmd/worker/cli"
	"github.com/salespulse/salespulse/internal/app"
	jobmetrics "github.com/salespulse/salespulse/internal/jobs"
	"github.com/salespulse/salespulse/internal/platform/cache"
	"github.com/salespulse/salespulse/internal/platform/db"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/jobs"
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

	if len(os.Args) > 1 {
		if err := runCLI(ctx, cfg, os.Args[1:]); err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if cfg.PermissionCacheBackend != app.CacheBackendRedis {
		logger.Warn("permission cache is not shared, warmup only exercises the store",
			slog.String("backend", cfg.PermissionCacheBackend))
	}

	pool, err := db.New(ctx, cfg.Database())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := rbac.NewPGStore(pool)
	guard := rbac.NewGuard(rbac.NewResolver(store), rbac.NewRedisCache(redisClient, cfg.PermissionCachePrefix), rbac.GuardConfig{
		TTL:    cfg.PermissionCacheTTL,
		Logger: logger,
	})
	warmupJob := jobs.NewPermissionsWarmupJob(store, guard, logger, jobmetrics.NewMetrics(nil))

	warmupTask, err := jobs.NewPermissionsWarmupTask(jobs.PermissionsWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.WarmupCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsWarmup, Handler: warmupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("warmup_cron", cfg.WarmupCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, cfg *app.Config, args []string) error {
	opts := cfg.Redis().AsynqOpt()
	client := asynq.NewClient(opts)
	defer func() { _ = client.Close() }()
	inspector := asynq.NewInspector(opts)
	defer func() { _ = inspector.Close() }()
	return cli.NewJobsCLI(client, inspector).Run(ctx, args, os.Stdout)
}
