package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultFeedChannel is the Redis channel carrying permission change events.
const DefaultFeedChannel = "rbac.permissions.changed"

// Change scopes.
const (
	ScopeUser = "user"
	ScopeAll  = "all"
)

// ChangeEvent tells other processes which cached permission sets went stale.
type ChangeEvent struct {
	Scope  string `json:"scope"`
	UserID int64  `json:"userId,omitempty"`
	Origin string `json:"origin"`
}

// ChangeNotifier publishes change events to interested processes.
type ChangeNotifier interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// NopNotifier discards events; single-process deployments need nothing more.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, ChangeEvent) error { return nil }

// RedisChangeFeed fans change events out over Redis pub/sub.
type RedisChangeFeed struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisChangeFeed builds a feed with a fresh origin identifier.
func NewRedisChangeFeed(client *redis.Client, channel string, logger *slog.Logger) *RedisChangeFeed {
	if channel == "" {
		channel = DefaultFeedChannel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisChangeFeed{client: client, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Origin identifies events published by this process.
func (f *RedisChangeFeed) Origin() string {
	return f.origin
}

func (f *RedisChangeFeed) Publish(ctx context.Context, event ChangeEvent) error {
	if event.Scope != ScopeUser && event.Scope != ScopeAll {
		return fmt.Errorf("%w: unknown change scope %q", ErrValidation, event.Scope)
	}
	event.Origin = f.origin
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Listen subscribes to the channel and applies foreign events to inv until ctx
// ends. It returns once the subscription is confirmed.
func (f *RedisChangeFeed) Listen(ctx context.Context, inv Invalidator) error {
	if inv == nil {
		return errors.New("rbac: change feed requires an invalidator")
	}
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac: subscribe %s: %w", f.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				f.apply(ctx, inv, msg.Payload)
			}
		}
	}()
	return nil
}

func (f *RedisChangeFeed) apply(ctx context.Context, inv Invalidator, payload string) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		f.logger.Warn("discard malformed change event", slog.Any("error", err))
		return
	}
	if event.Origin == f.origin {
		return
	}
	var err error
	switch event.Scope {
	case ScopeUser:
		err = inv.Invalidate(ctx, event.UserID)
	default:
		err = inv.InvalidateAll(ctx)
	}
	if err != nil {
		f.logger.Error("apply change event", slog.String("scope", event.Scope), slog.Int64("user_id", event.UserID), slog.Any("error", err))
	}
}
