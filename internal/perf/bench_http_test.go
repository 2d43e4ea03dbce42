package perf

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/rbac/rbactest"
	"github.com/salespulse/salespulse/internal/shared"
)

func newBenchGuard(tb testing.TB, users int, cached bool) (*rbac.Guard, *rbactest.Store, []int64) {
	tb.Helper()
	store := rbactest.NewStore()
	view := store.AddPermission(shared.PermViewDashboard, rbac.ModuleDashboard, true)
	export := store.AddPermission(shared.PermExportData, rbac.ModuleExport, true)
	role := store.AddRole("ANALYST", false)
	store.Link(role.ID, view.ID)
	store.Link(role.ID, export.ID)
	ids := make([]int64, 0, users)
	for i := 0; i < users; i++ {
		u := store.AddUser(fmt.Sprintf("user%d@example.com", i), true)
		store.Assign(u.ID, role.ID)
		ids = append(ids, u.ID)
	}
	var cache rbac.Cache
	if cached {
		mem, err := rbac.NewMemoryCache(users + 1)
		require.NoError(tb, err)
		cache = mem
	}
	return rbac.NewGuard(rbac.NewResolver(store), cache, rbac.GuardConfig{}), store, ids
}

func TestPermissionCheckLatencyTargets(t *testing.T) {
	dashboard := rbac.RequirePermission(shared.PermViewDashboard)
	scenarios := []struct {
		name      string
		cached    bool
		delay     time.Duration
		threshold time.Duration
	}{
		{name: "cached", cached: true, delay: 20 * time.Millisecond, threshold: 5 * time.Millisecond},
		{name: "cold", cached: false, delay: 2 * time.Millisecond, threshold: 500 * time.Millisecond},
	}

	for _, scenario := range scenarios {
		t.Run(scenario.name, func(t *testing.T) {
			guard, store, ids := newBenchGuard(t, 5, scenario.cached)
			ctx := context.Background()
			if scenario.cached {
				for _, id := range ids {
					require.NoError(t, guard.Check(ctx, id, dashboard))
				}
			}
			store.Delay = scenario.delay

			samples := make([]time.Duration, 0, 40)
			for i := 0; i < 40; i++ {
				start := time.Now()
				require.NoError(t, guard.Check(ctx, ids[i%len(ids)], dashboard))
				samples = append(samples, time.Since(start))
			}
			if p95 := percentile95(samples); p95 > scenario.threshold {
				t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
			}
		})
	}
}

func BenchmarkGuardCheckCached(b *testing.B) {
	guard, _, ids := newBenchGuard(b, 100, true)
	req := rbac.RequireAnyOf(shared.PermExportData, shared.PermManageRoles)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := guard.Check(ctx, ids[i%len(ids)], req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGuardCheckUncached(b *testing.B) {
	guard, _, ids := newBenchGuard(b, 100, false)
	req := rbac.RequirePermission(shared.PermViewDashboard)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := guard.Check(ctx, ids[i%len(ids)], req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMiddlewareParallel(b *testing.B) {
	guard, _, ids := newBenchGuard(b, 100, true)
	handler := rbac.Middleware{Guard: guard}.RequirePermission(shared.PermViewDashboard)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			req = req.WithContext(shared.ContextWithUserID(req.Context(), ids[i%len(ids)]))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusNoContent {
				b.Fatalf("unexpected status %d", rec.Code)
			}
			i++
		}
	})
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
