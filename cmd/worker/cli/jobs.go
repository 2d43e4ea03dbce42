package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/salespulse/salespulse/jobs"
)

// Enqueuer is the slice of *asynq.Client the CLI needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector is the slice of *asynq.Inspector the CLI needs.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI builds the helpers over an existing client and inspector.
func NewJobsCLI(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// Run executes a subcommand and writes its JSON result to out.
//
//	warmup [userID...]   enqueue a permission cache warmup
//	stats                show default queue counters
//	scheduled [size]     list scheduled tasks
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("jobs cli: missing command (warmup|stats|scheduled)")
	}
	var result any
	var err error
	switch args[0] {
	case "warmup":
		result, err = c.TriggerWarmup(ctx, args[1:])
	case "stats":
		result, err = c.InspectQueue(ctx)
	case "scheduled":
		size := 10
		if len(args) > 1 {
			if size, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("jobs cli: invalid size %q", args[1])
			}
		}
		result, err = c.ListScheduled(ctx, size)
	default:
		return fmt.Errorf("jobs cli: unsupported command %s", args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// TriggerWarmup enqueues a permission warmup for the given user IDs, or for
// every active user when none are given.
func (c *JobsCLI) TriggerWarmup(ctx context.Context, rawIDs []string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	payload := jobs.PermissionsWarmupPayload{}
	for _, raw := range rawIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("jobs cli: invalid user id %q", raw)
		}
		payload.UserIDs = append(payload.UserIDs, id)
	}
	task, err := jobs.NewPermissionsWarmupTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
