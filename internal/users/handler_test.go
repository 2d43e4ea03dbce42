package users_test

import (
	"context"
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
	"github.com/salespulse/salespulse/internal/shared"
	"github.com/salespulse/salespulse/internal/users"
)

func TestUserRoleAssignmentTakesEffect(t *testing.T) {
	store := rbactest.NewStore()
	admin := store.AddUser("admin@example.com", true)
	member := store.AddUser("member@example.com", true)
	manageUsers := store.AddPermission(shared.PermManageUsers, rbac.ModuleSettings, true)
	upload := store.AddPermission(shared.PermUploadOmzet, rbac.ModuleUpload, true)
	adminRole := store.AddRole("ADMIN", true)
	uploader := store.AddRole("UPLOADER", false)
	store.Link(adminRole.ID, manageUsers.ID)
	store.Link(uploader.ID, upload.ID)
	store.Assign(admin.ID, adminRole.ID)

	cache, err := rbac.NewMemoryCache(16)
	require.NoError(t, err)
	guard := rbac.NewGuard(rbac.NewResolver(store), cache, rbac.GuardConfig{})
	service := rbac.NewService(store, guard, rbac.ServiceConfig{})
	r := chi.NewRouter()
	r.Route("/api/users", users.NewHandler(nil, service, rbac.Middleware{Guard: guard}).MountRoutes)

	do := func(method, path string, userID int64, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	ctx := context.Background()
	memberPath := "/api/users/" + strconv.FormatInt(member.ID, 10)
	rolePath := memberPath + "/roles/" + strconv.FormatInt(uploader.ID, 10)

	rec := do(http.MethodPost, rolePath, member.ID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.True(t, rbac.IsDenied(guard.RequirePermission(ctx, member.ID, shared.PermUploadOmzet)))
	rec = do(http.MethodPost, rolePath, admin.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"UPLOADER"`)
	assert.NoError(t, guard.RequirePermission(ctx, member.ID, shared.PermUploadOmzet))

	rec = do(http.MethodPost, rolePath, admin.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodDelete, rolePath, admin.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, rbac.IsDenied(guard.RequirePermission(ctx, member.ID, shared.PermUploadOmzet)))

	rec = do(http.MethodPut, memberPath+"/active", admin.ID, `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":false`)

	rec = do(http.MethodPut, memberPath+"/active", admin.ID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPut, "/api/users/"+strconv.FormatInt(admin.ID, 10)+"/active", admin.ID, `{"active":false}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/api/users/", admin.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "member@example.com")
}
