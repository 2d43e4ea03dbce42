package rbac

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheTTL bounds how long a resolved permission set is trusted.
	DefaultCacheTTL = 300 * time.Second
	// DefaultCacheSize caps the number of users held by MemoryCache.
	DefaultCacheSize = 10000
)

// Cache stores resolved permission sets per user. It is an optimisation only:
// absence or expiry must never change an authorization outcome.
type Cache interface {
	// Get returns the cached slugs and true, or false when absent or expired.
	Get(ctx context.Context, userID int64) ([]string, bool, error)
	// Set overwrites the user's entry with an absolute expiry of now+ttl.
	Set(ctx context.Context, userID int64, slugs []string, ttl time.Duration) error
	// Invalidate removes exactly one user's entry.
	Invalidate(ctx context.Context, userID int64) error
	// InvalidateAll removes every entry.
	InvalidateAll(ctx context.Context) error
}

type memoryEntry struct {
	slugs     []string
	expiresAt time.Time
}

// MemoryCache is a bounded in-process Cache. Expiry is checked on read.
type MemoryCache struct {
	entries *lru.Cache[int64, memoryEntry]
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most size users.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[int64, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("rbac: memory cache: %w", err)
	}
	return &MemoryCache{entries: entries, now: time.Now}, nil
}

// WithClock replaces the time source, used by tests to step past expiry.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, userID int64) ([]string, bool, error) {
	entry, ok := c.entries.Get(userID)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(userID)
		return nil, false, nil
	}
	return cloneSlugs(entry.slugs), true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID int64, slugs []string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.entries.Add(userID, memoryEntry{slugs: cloneSlugs(slugs), expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID int64) error {
	c.entries.Remove(userID)
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.entries.Purge()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

func cloneSlugs(slugs []string) []string {
	out := make([]string, len(slugs))
	copy(out, slugs)
	return out
}
