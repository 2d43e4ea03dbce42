package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// PermissionResolver computes a user's effective slugs without any caching.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID int64) ([]string, error)
}

// Invalidator drops cached permission sets after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// GuardConfig tunes a Guard. Zero values fall back to sensible defaults.
type GuardConfig struct {
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Guard answers authorization questions, reading through the cache and falling
// back to the resolver. Any resolution failure denies.
type Guard struct {
	resolver PermissionResolver
	cache    Cache
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	group      singleflight.Group
	generation atomic.Uint64
}

// NewGuard wires a Guard.
func NewGuard(resolver PermissionResolver, cache Cache, cfg GuardConfig) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		resolver: resolver,
		cache:    cache,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Permissions returns the effective, sorted permission slugs of userID.
func (g *Guard) Permissions(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return []string{}, nil
	}
	if g.cache != nil {
		slugs, ok, err := g.cache.Get(ctx, userID)
		switch {
		case err != nil:
			g.metrics.cacheFailed("get")
			g.logger.Warn("permission cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		case ok:
			g.metrics.hit()
			return slugs, nil
		}
	}
	g.metrics.miss()
	return g.resolve(ctx, userID)
}

// resolve collapses concurrent misses for the same user into one store query.
// The flight key carries the invalidation generation so callers arriving after
// an invalidation never join a flight that started before it.
func (g *Guard) resolve(ctx context.Context, userID int64) ([]string, error) {
	gen := g.generation.Load()
	key := fmt.Sprintf("%d:%d", gen, userID)
	ch := g.group.DoChan(key, func() (interface{}, error) {
		slugs, err := g.resolver.Resolve(context.WithoutCancel(ctx), userID)
		if err != nil {
			g.metrics.resolveFailed()
			return nil, err
		}
		if g.cache != nil && g.generation.Load() == gen {
			if err := g.cache.Set(context.WithoutCancel(ctx), userID, slugs, g.ttl); err != nil {
				g.metrics.cacheFailed("set")
				g.logger.Warn("permission cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		}
		return slugs, nil
	})
	select {
	case <-ctx.Done():
		return nil, &ResolveError{UserID: userID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSlugs(res.Val.([]string)), nil
	}
}

// Invalidate drops one user's cached set.
func (g *Guard) Invalidate(ctx context.Context, userID int64) error {
	g.generation.Add(1)
	if g.cache == nil {
		return nil
	}
	return g.cache.Invalidate(ctx, userID)
}

// InvalidateAll drops every cached set.
func (g *Guard) InvalidateAll(ctx context.Context) error {
	g.generation.Add(1)
	if g.cache == nil {
		return nil
	}
	return g.cache.InvalidateAll(ctx)
}

// PermissionSet returns the user's permissions as a lookup set.
func (g *Guard) PermissionSet(ctx context.Context, userID int64) (PermissionSet, error) {
	slugs, err := g.Permissions(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	return NewPermissionSet(slugs), nil
}

// Check evaluates req for userID. It returns nil when allowed, a *DeniedError
// when the requirement is unmet, and the resolution error otherwise.
func (g *Guard) Check(ctx context.Context, userID int64, req Requirement) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.IsZero() {
		g.metrics.decision("allow")
		return nil
	}
	set, err := g.PermissionSet(ctx, userID)
	if err != nil {
		g.metrics.decision("error")
		g.logger.Error("authorization check failed", slog.Int64("user_id", userID), slog.String("requirement", req.String()), slog.Any("error", err))
		return err
	}
	if !req.SatisfiedBy(set) {
		g.metrics.decision("deny")
		return &DeniedError{UserID: userID, Requirement: req}
	}
	g.metrics.decision("allow")
	return nil
}

func (g *Guard) has(ctx context.Context, userID int64, req Requirement) (bool, error) {
	err := g.Check(ctx, userID, req)
	if err == nil {
		return true, nil
	}
	if IsDenied(err) {
		return false, nil
	}
	return false, err
}

// HasPermission reports whether userID holds slug.
func (g *Guard) HasPermission(ctx context.Context, userID int64, slug string) (bool, error) {
	if normalizeSlug(slug) == "" {
		return false, nil
	}
	return g.has(ctx, userID, RequirePermission(slug))
}

// HasAny reports whether userID holds at least one of slugs.
func (g *Guard) HasAny(ctx context.Context, userID int64, slugs ...string) (bool, error) {
	if len(slugs) == 0 {
		return false, nil
	}
	return g.has(ctx, userID, RequireAnyOf(slugs...))
}

// HasAll reports whether userID holds every one of slugs. A list without any
// slug grants nothing.
func (g *Guard) HasAll(ctx context.Context, userID int64, slugs ...string) (bool, error) {
	if len(normalizePermissions(slugs)) == 0 {
		return false, nil
	}
	return g.has(ctx, userID, RequireAllOf(slugs...))
}

// RequirePermission returns a *DeniedError unless userID holds slug.
func (g *Guard) RequirePermission(ctx context.Context, userID int64, slug string) error {
	if normalizeSlug(slug) == "" {
		return &DeniedError{UserID: userID, Requirement: RequirePermission(slug)}
	}
	return g.Check(ctx, userID, RequirePermission(slug))
}

// RequireAny returns a *DeniedError unless userID holds one of slugs.
func (g *Guard) RequireAny(ctx context.Context, userID int64, slugs ...string) error {
	if len(slugs) == 0 {
		return &DeniedError{UserID: userID, Requirement: RequireAnyOf()}
	}
	return g.Check(ctx, userID, RequireAnyOf(slugs...))
}

// RequireAll returns a *DeniedError unless userID holds every one of slugs.
func (g *Guard) RequireAll(ctx context.Context, userID int64, slugs ...string) error {
	if len(normalizePermissions(slugs)) == 0 {
		return &DeniedError{UserID: userID, Requirement: RequireAllOf(slugs...)}
	}
	return g.Check(ctx, userID, RequireAllOf(slugs...))
}
