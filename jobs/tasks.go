package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsWarmup preloads permission sets into the guard cache.
	TaskPermissionsWarmup = "permissions:warmup"
)

// PermissionsWarmupPayload limits a warmup run to specific users. An empty
// list warms every active user.
type PermissionsWarmupPayload struct {
	UserIDs []int64 `json:"userIds,omitempty"`
}

// NewPermissionsWarmupTask constructs an Asynq task.
func NewPermissionsWarmupTask(payload PermissionsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsWarmup, data, asynq.MaxRetry(3)), nil
}
