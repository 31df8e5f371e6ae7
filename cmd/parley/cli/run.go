package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/app"
	"github.com/parley-chat/parley/internal/platform/db"
	"github.com/parley-chat/parley/internal/resources"
	"github.com/parley-chat/parley/internal/shared"
)

// Run dispatches a CLI subcommand and returns the process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: parley <backfill> [flags]")
		return 2
	}
	switch args[0] {
	case "backfill":
		return runBackfill(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return 2
	}
}

func runBackfill(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	resourceType := fs.String("type", "", "resource type to backfill (agent, prompt_group)")
	mode := fs.String("mode", "dry", "dry or apply")
	batchSize := fs.Int("batch", 0, "live-run batch size (0 uses the configured default)")
	jsonOut := fs.Bool("json", false, "emit JSON output")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "acl backfill: load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acl backfill: connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
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
		fmt.Fprintf(os.Stderr, "acl backfill: seed roles: %v\n", err)
		return 1
	}

	aclCache := acl.NewCache(redisClient, cfg.ACLCacheTTL)
	auditLogger := shared.NewAuditLogger(pool)
	aclService := acl.NewService(aclRepo, roleRegistry, aclCache, auditLogger, acl.ServiceConfig{
		CheckChunkSize: cfg.ACLCheckChunkSize,
	})
	migrator := acl.NewMigrator(aclService, resourceRepo, logger, acl.MigratorConfig{
		BatchSize:   cfg.ACLMigrateBatch,
		BatchPause:  cfg.ACLMigratePause,
		Parallelism: cfg.ACLMigrateParallel,
	})

	opts := BackfillOptions{
		ResourceType: *resourceType,
		Mode:         BackfillMode(*mode),
		BatchSize:    *batchSize,
		JSONOutput:   *jsonOut,
	}
	if *yes {
		opts.Confirm = func(io.Reader, io.Writer) (bool, error) { return true, nil }
	}
	return NewBackfillCLI(migrator).BackfillCommand(ctx, opts)
}
