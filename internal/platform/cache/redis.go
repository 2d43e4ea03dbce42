package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Config describes the Redis connection shared by the permission cache,
// the change feed and the job queue.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Options converts cfg into go-redis options.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

// AsynqOpt returns the same connection settings for the job queue.
func (c Config) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// New creates a Redis client and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}
