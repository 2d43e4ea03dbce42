package rbac_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/rbac"
)

func newGuard(t *testing.T, f fixture) (*rbac.Guard, *rbac.MemoryCache, *prometheus.Registry) {
	t.Helper()
	cache, err := rbac.NewMemoryCache(64)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	guard := rbac.NewGuard(rbac.NewResolver(f.store), cache, rbac.GuardConfig{Metrics: rbac.NewMetrics(reg)})
	return guard, cache, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestGuardWarmCacheSkipsStore(t *testing.T) {
	f := seedReporting(t)
	guard, _, reg := newGuard(t, f)
	ctx := context.Background()

	first, err := guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)
	second, err := guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.store.GrantLookups.Load())
	assert.Equal(t, 1.0, counterValue(t, reg, "salespulse_permission_cache_lookups_total", "result", "hit"))
	assert.Equal(t, 1.0, counterValue(t, reg, "salespulse_permission_cache_lookups_total", "result", "miss"))
}

func TestGuardCheckOrAnd(t *testing.T) {
	store := seedReporting(t).store
	user := store.AddUser("ab@example.com", true)
	role := store.AddRole("AB", false)
	a := store.AddPermission("perm_a", rbac.ModuleDashboard, false)
	b := store.AddPermission("perm_b", rbac.ModuleDashboard, false)
	store.AddPermission("perm_c", rbac.ModuleDashboard, false)
	store.Link(role.ID, a.ID)
	store.Link(role.ID, b.ID)
	store.Assign(user.ID, role.ID)

	guard, _, _ := newGuard(t, fixture{store: store})
	ctx := context.Background()

	assert.NoError(t, guard.Check(ctx, user.ID, rbac.RequireAnyOf("perm_a", "perm_c")))
	assert.NoError(t, guard.Check(ctx, user.ID, rbac.RequireAllOf("perm_a", "perm_b")))

	err := guard.Check(ctx, user.ID, rbac.RequireAllOf("perm_a", "perm_c"))
	require.Error(t, err)
	assert.True(t, rbac.IsDenied(err))
	assert.ErrorIs(t, err, rbac.ErrForbidden)
}

func TestGuardHelpers(t *testing.T) {
	f := seedReporting(t)
	guard, _, _ := newGuard(t, f)
	ctx := context.Background()

	ok, err := guard.HasPermission(ctx, f.user.ID, "EXPORT_DATA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.HasPermission(ctx, f.user.ID, "manage_roles")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.HasPermission(ctx, f.user.ID, "  ")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.HasAny(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, ok, "empty any-list grants nothing")

	ok, err = guard.HasAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, ok, "empty all-list grants nothing")

	ok, err = guard.HasAll(ctx, f.user.ID, " ")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, rbac.IsDenied(guard.RequireAny(ctx, f.user.ID)))
	assert.True(t, rbac.IsDenied(guard.RequirePermission(ctx, f.user.ID, "")))
	assert.True(t, rbac.IsDenied(guard.RequireAll(ctx, f.user.ID)))
	assert.NoError(t, guard.RequireAll(ctx, f.user.ID, "view_dashboard", "upload_omzet"))
	assert.True(t, rbac.IsDenied(guard.RequirePermission(ctx, 0, "view_dashboard")))
}

func TestGuardRevocationVisibleAfterInvalidate(t *testing.T) {
	f := seedReporting(t)
	guard, _, _ := newGuard(t, f)
	ctx := context.Background()

	require.NoError(t, guard.RequirePermission(ctx, f.user.ID, "export_data"))
	require.NoError(t, f.store.DeleteRolePermission(ctx, f.analyst.ID, f.perms["export_data"].ID))

	// Still cached until someone invalidates.
	require.NoError(t, guard.RequirePermission(ctx, f.user.ID, "export_data"))

	require.NoError(t, guard.Invalidate(ctx, f.user.ID))
	err := guard.RequirePermission(ctx, f.user.ID, "export_data")
	assert.True(t, rbac.IsDenied(err))
}

func TestGuardFailsClosedOnStoreError(t *testing.T) {
	f := seedReporting(t)
	guard, _, reg := newGuard(t, f)
	f.store.Err = errors.New("db down")
	ctx := context.Background()

	err := guard.Check(ctx, f.user.ID, rbac.RequirePermission("view_dashboard"))
	require.Error(t, err)
	assert.False(t, rbac.IsDenied(err))
	assert.ErrorIs(t, err, rbac.ErrStoreUnavailable)

	ok, err := guard.HasPermission(ctx, f.user.ID, "view_dashboard")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2.0, counterValue(t, reg, "salespulse_authz_decisions_total", "outcome", "error"))

	// A failed resolution must not be cached.
	f.store.Err = nil
	ok, err = guard.HasPermission(ctx, f.user.ID, "view_dashboard")
	require.NoError(t, err)
	assert.True(t, ok)
}

type brokenCache struct {
	sets int
}

func (c *brokenCache) Get(context.Context, int64) ([]string, bool, error) {
	return nil, false, errors.New("cache offline")
}

func (c *brokenCache) Set(context.Context, int64, []string, time.Duration) error {
	c.sets++
	return errors.New("cache offline")
}

func (c *brokenCache) Invalidate(context.Context, int64) error { return errors.New("cache offline") }
func (c *brokenCache) InvalidateAll(context.Context) error     { return errors.New("cache offline") }

func TestGuardIgnoresCacheFailures(t *testing.T) {
	f := seedReporting(t)
	cache := &brokenCache{}
	reg := prometheus.NewRegistry()
	guard := rbac.NewGuard(rbac.NewResolver(f.store), cache, rbac.GuardConfig{Metrics: rbac.NewMetrics(reg)})

	ok, err := guard.HasPermission(context.Background(), f.user.ID, "upload_omzet")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1.0, counterValue(t, reg, "salespulse_permission_cache_errors_total", "op", "get"))
	assert.Equal(t, 1.0, counterValue(t, reg, "salespulse_permission_cache_errors_total", "op", "set"))
}

func TestGuardWithoutCache(t *testing.T) {
	f := seedReporting(t)
	guard := rbac.NewGuard(rbac.NewResolver(f.store), nil, rbac.GuardConfig{})
	ctx := context.Background()

	_, err := guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)
	_, err = guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.store.GrantLookups.Load())
	assert.NoError(t, guard.InvalidateAll(ctx))
}

func TestGuardCollapsesConcurrentMisses(t *testing.T) {
	f := seedReporting(t)
	f.store.Delay = 50 * time.Millisecond
	guard, _, _ := newGuard(t, f)

	var wg sync.WaitGroup
	results := make([][]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slugs, err := guard.Permissions(context.Background(), f.user.ID)
			assert.NoError(t, err)
			results[i] = slugs
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.store.GrantLookups.Load())
	for _, slugs := range results {
		assert.Equal(t, []string{"export_data", "upload_omzet", "view_dashboard"}, slugs)
	}
}

func TestGuardCallerContextEndsFirst(t *testing.T) {
	f := seedReporting(t)
	f.store.Delay = time.Second
	guard, _, _ := newGuard(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := guard.Check(ctx, f.user.ID, rbac.RequirePermission("view_dashboard"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, rbac.ErrStoreUnavailable)
}

func TestGuardInvalidationDuringResolveIsNotCached(t *testing.T) {
	f := seedReporting(t)
	f.store.Delay = 100 * time.Millisecond
	guard, cache, _ := newGuard(t, f)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = guard.Permissions(ctx, f.user.ID)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, guard.InvalidateAll(ctx))
	<-done

	_, ok, err := cache.Get(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, ok, "set resolved before invalidation must not be cached")
}

func TestGuardRejectsMixedRequirement(t *testing.T) {
	f := seedReporting(t)
	guard, _, _ := newGuard(t, f)
	err := guard.Check(context.Background(), f.user.ID, rbac.Requirement{Permission: "a", All: []string{"b"}})
	assert.ErrorIs(t, err, rbac.ErrValidation)
}

func TestGuardInvalidateAllTwiceMatchesOnce(t *testing.T) {
	f := seedReporting(t)
	guard, cache, _ := newGuard(t, f)
	ctx := context.Background()

	_, err := guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.store.GrantLookups.Load())

	require.NoError(t, f.store.DeleteRolePermission(ctx, f.analyst.ID, f.perms["export_data"].ID))
	require.NoError(t, guard.InvalidateAll(ctx))
	require.NoError(t, guard.InvalidateAll(ctx))
	assert.Zero(t, cache.Len())

	got, err := guard.Permissions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.store.GrantLookups.Load(), "exactly one re-resolve")

	fresh, err := rbac.NewResolver(f.store).Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, []string{"upload_omzet", "view_dashboard"}, got)

	ok, err := guard.HasPermission(ctx, f.user.ID, "export_data")
	require.NoError(t, err)
	assert.False(t, ok)
	// Two lookups from the guard, one from the direct resolve; the check hit the cache.
	assert.EqualValues(t, 3, f.store.GrantLookups.Load())
}
