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

	"github.com/parley-chat/parley/cmd/parley/cli"
	"github.com/parley-chat/parley/internal/acl"
	aclhttp "github.com/parley-chat/parley/internal/acl/http"
	"github.com/parley-chat/parley/internal/app"
	"github.com/parley-chat/parley/internal/identity"
	"github.com/parley-chat/parley/internal/observability"
	"github.com/parley-chat/parley/internal/platform/db"
	"github.com/parley-chat/parley/internal/resources"
	"github.com/parley-chat/parley/internal/shared"
	"github.com/parley-chat/parley/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if len(os.Args) > 1 {
		os.Exit(cli.Run(os.Args[1:]))
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "parley_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	resourceRegistry := resources.NewRegistry()
	resourceRepo := resources.NewRepository(dbpool, resourceRegistry)
	hooks := resources.NewHookDispatcher(logger)

	aclRepo := acl.NewRepository(dbpool)
	roleRegistry := acl.NewRoleRegistry(aclRepo)
	if err := roleRegistry.SeedDefaultRoles(ctx, resourceRegistry.Types()...); err != nil {
		// Serving authorization decisions without a complete role set would
		// turn every role grant into a dangling reference.
		logger.Error("seed default roles", slog.Any("error", err))
		os.Exit(1)
	}

	aclCache := acl.NewCache(redisClient, cfg.ACLCacheTTL)
	aclService := acl.NewService(aclRepo, roleRegistry, aclCache, auditLogger, acl.ServiceConfig{
		CheckChunkSize: cfg.ACLCheckChunkSize,
	})
	hooks.OnDeleted(func(ctx context.Context, ref acl.ResourceRef) error {
		_, err := aclService.OnResourceDeleted(ctx, ref)
		return err
	})
	migrator := acl.NewMigrator(aclService, resourceRepo, logger, acl.MigratorConfig{
		BatchSize:   cfg.ACLMigrateBatch,
		BatchPause:  cfg.ACLMigratePause,
		Parallelism: cfg.ACLMigrateParallel,
	})

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo)
	authHandler := identity.NewHandler(logger, identityService, sessionManager)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	aclHandler := aclhttp.NewHandler(logger, aclService, migrator, identityService, jobClient, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		ACLHandler:     aclHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
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
