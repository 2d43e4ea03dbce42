package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/salespulse/salespulse/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ActiveUserLister enumerates users whose permissions are worth caching.
type ActiveUserLister interface {
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
}

// PermissionLoader resolves and caches a user's permissions; *rbac.Guard
// satisfies it.
type PermissionLoader interface {
	Permissions(ctx context.Context, userID int64) ([]string, error)
}

// PermissionsWarmupJob fills the permission cache so the first request after
// a deploy or a bulk invalidation does not hit the store.
type PermissionsWarmupJob struct {
	Users   ActiveUserLister
	Loader  PermissionLoader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// PerUserTimeout bounds a single resolve. Zero means 5s.
	PerUserTimeout time.Duration
}

// NewPermissionsWarmupJob wires dependencies for the warmup handler.
func NewPermissionsWarmupJob(users ActiveUserLister, loader PermissionLoader, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsWarmupJob {
	return &PermissionsWarmupJob{Users: users, Loader: loader, Logger: logger, Metrics: metrics}
}

// Handle processes permission warmup tasks. One failing user does not stop
// the run; the task fails at the end so asynq retries it.
func (j *PermissionsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Loader == nil {
		return errors.New("permissions warmup: handler not configured")
	}
	var payload PermissionsWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskPermissionsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	userIDs := payload.UserIDs
	if len(userIDs) == 0 {
		if j.Users == nil {
			resultErr = errors.New("permissions warmup: user lister not configured")
			return resultErr
		}
		ids, err := j.Users.ListActiveUserIDs(ctx)
		if err != nil {
			resultErr = err
			logger.Error("list active users", slog.Any("error", err))
			return resultErr
		}
		userIDs = ids
	}
	if len(userIDs) == 0 {
		logger.Info("no users to warm")
		return resultErr
	}

	warmed := 0
	var failed []error
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			resultErr = err
			return resultErr
		}
		if err := j.warmUser(ctx, userID); err != nil {
			logger.Warn("warm user", slog.Int64("user_id", userID), slog.Any("error", err))
			failed = append(failed, err)
			continue
		}
		warmed++
	}
	j.metrics().AddWarmed(warmed)

	logger.Info("completed permissions warmup",
		slog.Int("warmed", warmed),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", time.Since(start)))
	if len(failed) > 0 {
		resultErr = errors.Join(failed...)
	}
	return resultErr
}

func (j *PermissionsWarmupJob) warmUser(ctx context.Context, userID int64) error {
	timeout := j.PerUserTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	userCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := j.Loader.Permissions(userCtx, userID)
	return err
}

func (j *PermissionsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsWarmup))
}

func (j *PermissionsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
