package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeACLMigrate is the task type for the permission backfill.
	TaskTypeACLMigrate = "acl:migrate"
)

// ACLMigratePayload configures one live backfill run.
type ACLMigratePayload struct {
	ResourceType string `json:"resource_type"`
	BatchSize    int    `json:"batch_size"`
}

// NewACLMigrateTask constructs an Asynq task.
func NewACLMigrateTask(payload ACLMigratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeACLMigrate, data), nil
}
