package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/app"
	"github.com/parley-chat/parley/internal/platform/db"
	"github.com/parley-chat/parley/internal/resources"
	"github.com/parley-chat/parley/internal/shared"
	"github.com/parley-chat/parley/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	resourceRegistry := resources.NewRegistry()
	resourceRepo := resources.NewRepository(pool, resourceRegistry)

	aclRepo := acl.NewRepository(pool)
	roleRegistry := acl.NewRoleRegistry(aclRepo)
	if err := roleRegistry.SeedDefaultRoles(ctx, resourceRegistry.Types()...); err != nil {
		logger.Error("seed default roles", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(pool)
	// Backfill grants must bump cache versions, or API readers would keep
	// serving stale masks until TTL expiry.
	aclCache := acl.NewCache(redisClient, cfg.ACLCacheTTL)
	aclService := acl.NewService(aclRepo, roleRegistry, aclCache, auditLogger, acl.ServiceConfig{
		CheckChunkSize: cfg.ACLCheckChunkSize,
	})
	migrator := acl.NewMigrator(aclService, resourceRepo, logger, acl.MigratorConfig{
		BatchSize:   cfg.ACLMigrateBatch,
		BatchPause:  cfg.ACLMigratePause,
		Parallelism: cfg.ACLMigrateParallel,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeACLMigrate, Handler: jobs.NewACLMigrateHandler(migrator, logger)},
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
