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
	"github.com/redis/go-redis/v9"

	"github.com/salespulse/salespulse/internal/app"
	"github.com/salespulse/salespulse/internal/audit"
	audithttp "github.com/salespulse/salespulse/internal/audit/http"
	"github.com/salespulse/salespulse/internal/auth"
	"github.com/salespulse/salespulse/internal/dashboard"
	"github.com/salespulse/salespulse/internal/observability"
	"github.com/salespulse/salespulse/internal/platform/cache"
	"github.com/salespulse/salespulse/internal/platform/db"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/roles"
	"github.com/salespulse/salespulse/internal/users"
	"github.com/salespulse/salespulse/jobs"
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

	dbpool, err := db.New(ctx, cfg.Database())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		if cfg.PermissionCacheBackend == app.CacheBackendRedis {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("redis unavailable, running without change feed and job queue", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	store := rbac.NewPGStore(dbpool)
	permissionCache, err := newPermissionCache(cfg, redisClient)
	if err != nil {
		logger.Error("init permission cache", slog.Any("error", err))
		os.Exit(1)
	}
	guard := rbac.NewGuard(rbac.NewResolver(store), permissionCache, rbac.GuardConfig{
		TTL:     cfg.PermissionCacheTTL,
		Logger:  logger,
		Metrics: rbac.NewMetrics(metrics.Registerer()),
	})

	var notifier rbac.ChangeNotifier = rbac.NopNotifier{}
	if redisClient != nil {
		feed := rbac.NewRedisChangeFeed(redisClient, cfg.PermissionFeedChannel, logger)
		if err := feed.Listen(ctx, guard); err != nil {
			logger.Warn("permission change feed disabled", slog.Any("error", err))
		} else {
			notifier = feed
			logger.Info("listening for permission changes", slog.String("channel", cfg.PermissionFeedChannel), slog.String("origin", feed.Origin()))
		}
	}

	auditService := audit.NewService(audit.NewRepository(dbpool))
	rbacService := rbac.NewService(store, guard, rbac.ServiceConfig{
		Logger:   logger,
		Notifier: notifier,
		Audit:    auditService,
	})
	rbacMiddleware := rbac.Middleware{Guard: guard, Logger: logger}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		logger.Error("init token manager", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(auth.NewRepository(dbpool), tokens, logger)

	readiness := map[string]app.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return dbpool.Ping(ctx) },
	}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		inspector := asynq.NewInspector(cfg.Redis().AsynqOpt())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
		enqueueStartupWarmup(ctx, cfg, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Tokens:             tokens,
		AuthHandler:        auth.NewHandler(logger, authService),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, guard, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rbacService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, rbacService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, guard),
		DashboardHandler:   dashboard.NewHandler(logger, guard, cfg.GateFallbackPath),
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Readiness:          readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("permission_cache", cfg.PermissionCacheBackend))
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

func newPermissionCache(cfg *app.Config, client *redis.Client) (rbac.Cache, error) {
	switch cfg.PermissionCacheBackend {
	case app.CacheBackendNone:
		return nil, nil
	case app.CacheBackendRedis:
		return rbac.NewRedisCache(client, cfg.PermissionCachePrefix), nil
	default:
		return rbac.NewMemoryCache(cfg.PermissionCacheSize)
	}
}

// enqueueStartupWarmup asks the worker to refill the shared Redis cache. A
// per-process memory cache cannot be warmed from another process.
func enqueueStartupWarmup(ctx context.Context, cfg *app.Config, logger *slog.Logger) {
	if cfg.PermissionCacheBackend != app.CacheBackendRedis {
		return
	}
	client := jobs.NewClient(cfg.Redis().AsynqOpt())
	defer func() { _ = client.Close() }()
	if _, err := client.EnqueuePermissionsWarmup(ctx, jobs.PermissionsWarmupPayload{}); err != nil {
		logger.Warn("enqueue permission warmup", slog.Any("error", err))
	}
}
