package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/parley-chat/parley/internal/acl"
)

// NewACLMigrateHandler builds the handler for TaskTypeACLMigrate. Live runs
// only: dry runs are served inline by the HTTP handler and the CLI.
func NewACLMigrateHandler(migrator *acl.Migrator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ACLMigratePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		outcome, err := migrator.Run(ctx, acl.MigrateRequest{
			ResourceType: acl.ResourceType(payload.ResourceType),
			BatchSize:    payload.BatchSize,
		})
		if err != nil {
			logger.Error("acl migration task failed",
				slog.String("resource_type", payload.ResourceType),
				slog.Any("error", err))
			return err
		}
		logger.Info("acl migration task finished",
			slog.String("resource_type", payload.ResourceType),
			slog.Int("migrated", outcome.Migrated),
			slog.Int("errors", outcome.Errors))
		return nil
	}
}
