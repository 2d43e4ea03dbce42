package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/app"
	"github.com/salespulse/salespulse/internal/auth"
	"github.com/salespulse/salespulse/internal/dashboard"
	"github.com/salespulse/salespulse/internal/observability"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/rbac/rbactest"
	"github.com/salespulse/salespulse/internal/roles"
	"github.com/salespulse/salespulse/internal/shared"
	_ "github.com/salespulse/salespulse/testing"
)

type routerFixture struct {
	handler http.Handler
	tokens  *auth.TokenManager
	store   *rbactest.Store
	analyst rbac.User
	admin   rbac.User
}

func newRouterFixture(t *testing.T, readiness map[string]app.ReadinessCheck) routerFixture {
	t.Helper()
	store := rbactest.NewStore()
	view := store.AddPermission(shared.PermViewDashboard, rbac.ModuleDashboard, true)
	manage := store.AddPermission(shared.PermManageRoles, rbac.ModuleSettings, true)
	analystRole := store.AddRole("ANALYST", false)
	adminRole := store.AddRole("ADMIN", true)
	store.Link(analystRole.ID, view.ID)
	store.Link(adminRole.ID, view.ID)
	store.Link(adminRole.ID, manage.ID)
	analyst := store.AddUser("analyst@example.com", true)
	admin := store.AddUser("admin@example.com", true)
	store.Assign(analyst.ID, analystRole.ID)
	store.Assign(admin.ID, adminRole.ID)

	cache, err := rbac.NewMemoryCache(32)
	require.NoError(t, err)
	guard := rbac.NewGuard(rbac.NewResolver(store), cache, rbac.GuardConfig{})
	service := rbac.NewService(store, guard, rbac.ServiceConfig{})
	mw := rbac.Middleware{Guard: guard}

	tokens, err := auth.NewTokenManager("router-test-secret", "", time.Hour)
	require.NoError(t, err)

	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, AppRateLimit: 1000, GateFallbackPath: "/forbidden"}
	handler := app.NewRouter(app.RouterParams{
		Config:             cfg,
		Tokens:             tokens,
		PermissionsHandler: rbac.NewPermissionsHandler(nil, service, guard, mw),
		RolesHandler:       roles.NewHandler(nil, service, mw),
		DashboardHandler:   dashboard.NewHandler(nil, guard, cfg.GateFallbackPath),
		Metrics:            observability.NewMetrics(),
		Readiness:          readiness,
	})
	return routerFixture{handler: handler, tokens: tokens, store: store, analyst: analyst, admin: admin}
}

func (f routerFixture) get(t *testing.T, path string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID > 0 {
		token, _, err := f.tokens.Issue(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.get(t, "/healthz", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = f.get(t, "/metrics", 0)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "salespulse_http_requests_total")
}

func TestRouterAPIRequiresToken(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.get(t, "/api/me/permissions", 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.get(t, "/api/me/permissions", f.analyst.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), shared.PermViewDashboard)
}

func TestRouterRBACOnAdminRoutes(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.get(t, "/api/roles/", f.analyst.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get(t, "/api/roles/", f.admin.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Roles []rbac.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Roles, 2)
}

func TestRouterDashboardUsesBearerIdentity(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.get(t, "/dashboard", f.analyst.ID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/dashboard", 0)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get("Location"))
}

func TestRouterReadiness(t *testing.T) {
	f := newRouterFixture(t, map[string]app.ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := f.get(t, "/readyz", 0)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"up","redis":"down"}}`, rec.Body.String())
}
