package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "rbac:perms"

// RedisCache shares permission sets between processes. Keys carry a generation
// number so InvalidateAll only has to bump one counter; older generations are
// left to expire through their TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache builds a RedisCache. An empty prefix falls back to "rbac:perms".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) versionKey() string {
	return c.prefix + ":version"
}

// Version returns the current key generation, initialising it when missing.
func (c *RedisCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, c.versionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, c.versionKey()).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *RedisCache) userKey(ctx context.Context, userID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", c.prefix, ver, strconv.FormatInt(userID, 10)), nil
}

func (c *RedisCache) Get(ctx context.Context, userID int64) ([]string, bool, error) {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var slugs []string
	if err := json.Unmarshal(payload, &slugs); err != nil {
		return nil, false, fmt.Errorf("rbac: decode cached permissions: %w", err)
	}
	if slugs == nil {
		slugs = []string{}
	}
	return slugs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID int64, slugs []string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if slugs == nil {
		slugs = []string{}
	}
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(slugs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if _, err := c.Version(ctx); err != nil {
		return err
	}
	return c.client.Incr(ctx, c.versionKey()).Err()
}
