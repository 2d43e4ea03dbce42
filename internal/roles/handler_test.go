package roles_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/rbac/rbactest"
	"github.com/salespulse/salespulse/internal/roles"
	"github.com/salespulse/salespulse/internal/shared"
)

type harness struct {
	store  *rbactest.Store
	guard  *rbac.Guard
	router http.Handler
	admin  rbac.User
	viewer rbac.User
	perm   rbac.Permission
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := rbactest.NewStore()
	admin := store.AddUser("admin@example.com", true)
	viewer := store.AddUser("viewer@example.com", true)
	manage := store.AddPermission(shared.PermManageRoles, rbac.ModuleSettings, true)
	view := store.AddPermission(shared.PermViewDashboard, rbac.ModuleDashboard, true)
	adminRole := store.AddRole("ADMIN", true)
	store.Link(adminRole.ID, manage.ID)
	store.Assign(admin.ID, adminRole.ID)

	cache, err := rbac.NewMemoryCache(16)
	require.NoError(t, err)
	guard := rbac.NewGuard(rbac.NewResolver(store), cache, rbac.GuardConfig{})
	service := rbac.NewService(store, guard, rbac.ServiceConfig{})

	r := chi.NewRouter()
	r.Route("/api/roles", roles.NewHandler(nil, service, rbac.Middleware{Guard: guard}).MountRoutes)
	return harness{store: store, guard: guard, router: r, admin: admin, viewer: viewer, perm: view}
}

func (h harness) do(method, path string, userID int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestRolesRequireManageRoles(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/roles/", h.viewer.ID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), shared.PermManageRoles)

	rec = h.do(http.MethodGet, "/api/roles/", h.admin.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ADMIN"`)
}

func TestRoleLifecycleChangesAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.do(http.MethodPost, "/api/roles/", h.admin.ID, `{"name":"viewer","description":"Dashboard only"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role rbac.Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, "VIEWER", role.Name)
	base := "/api/roles/" + strconv.FormatInt(role.ID, 10)

	require.NoError(t, h.store.CreateUserRole(ctx, h.viewer.ID, role.ID))
	ok, err := h.guard.HasPermission(ctx, h.viewer.ID, shared.PermViewDashboard)
	require.NoError(t, err)
	require.False(t, ok)

	rec = h.do(http.MethodPost, base+"/permissions/"+strconv.FormatInt(h.perm.ID, 10), h.admin.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var detail roles.RoleDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Permissions, 1)

	ok, err = h.guard.HasPermission(ctx, h.viewer.ID, shared.PermViewDashboard)
	require.NoError(t, err)
	assert.True(t, ok, "grant is visible without waiting for the TTL")

	rec = h.do(http.MethodPut, base+"/permissions", h.admin.ID, `{"permissionIds":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ok, err = h.guard.HasPermission(ctx, h.viewer.ID, shared.PermViewDashboard)
	require.NoError(t, err)
	assert.False(t, ok)

	rec = h.do(http.MethodDelete, base, h.admin.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, base, h.admin.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemRoleCannotBeDeleted(t *testing.T) {
	h := newHarness(t)
	list, err := h.store.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	path := "/api/roles/" + strconv.FormatInt(list[0].ID, 10)

	rec := h.do(http.MethodDelete, path, h.admin.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPut, path, h.admin.ID, `{"name":"ROOT"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoleValidationErrors(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/roles/", h.admin.ID, `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/roles/", h.admin.ID, `{"name":"admin"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/api/roles/0", h.admin.ID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
