package dashboard_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/dashboard"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/rbac/rbactest"
	"github.com/salespulse/salespulse/internal/shared"
)

func TestVisibleDropsEmptySections(t *testing.T) {
	set := rbac.NewPermissionSet([]string{shared.PermViewDashboard, shared.PermManageRoles})
	sections := dashboard.Visible(dashboard.DefaultNavigation(), set)

	require.Len(t, sections, 2)
	assert.Equal(t, rbac.ModuleDashboard, sections[0].Module)
	assert.Equal(t, rbac.ModuleSettings, sections[1].Module)
	paths := []string{}
	for _, item := range sections[1].Items {
		paths = append(paths, item.Path)
	}
	assert.Equal(t, []string{"/settings/roles", "/settings/permissions"}, paths)
}

func TestDashboardGate(t *testing.T) {
	store := rbactest.NewStore()
	analyst := store.AddUser("analyst@example.com", true)
	uploader := store.AddUser("uploader@example.com", true)
	view := store.AddPermission(shared.PermViewDashboard, rbac.ModuleDashboard, true)
	upload := store.AddPermission(shared.PermUploadOmzet, rbac.ModuleUpload, true)
	analystRole := store.AddRole("ANALYST", false)
	uploaderRole := store.AddRole("UPLOADER", false)
	store.Link(analystRole.ID, view.ID)
	store.Link(uploaderRole.ID, upload.ID)
	store.Assign(analyst.ID, analystRole.ID)
	store.Assign(uploader.ID, uploaderRole.ID)

	cache, err := rbac.NewMemoryCache(8)
	require.NoError(t, err)
	guard := rbac.NewGuard(rbac.NewResolver(store), cache, rbac.GuardConfig{})
	r := chi.NewRouter()
	dashboard.NewHandler(nil, guard, "/forbidden").MountRoutes(r)

	get := func(path string, userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if userID > 0 {
			req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/dashboard", analyst.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID     int64               `json:"userId"`
		Navigation []dashboard.Section `json:"navigation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, analyst.ID, body.UserID)
	require.Len(t, body.Navigation, 1)
	assert.Equal(t, "/dashboard", body.Navigation[0].Items[0].Path)

	rec = get("/dashboard", uploader.ID)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get("Location"))

	rec = get("/dashboard", 0)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = get("/forbidden", 0)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDashboardRedirectsWhenStoreDown(t *testing.T) {
	store := rbactest.NewStore()
	user := store.AddUser("u@example.com", true)
	store.FailOn["FindUserWithRolesAndPermissions"] = assert.AnError

	guard := rbac.NewGuard(rbac.NewResolver(store), nil, rbac.GuardConfig{})
	r := chi.NewRouter()
	dashboard.NewHandler(nil, guard, "").MountRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(shared.ContextWithUserID(req.Context(), user.ID))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get("Location"))
}
