package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salespulse/salespulse/internal/audit"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/rbac/rbactest"
	"github.com/salespulse/salespulse/internal/shared"
)

type auditSink struct {
	entries []audit.Entry
	err     error
}

func (a *auditSink) Record(_ context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return a.err
}

func (a *auditSink) actions() []string {
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type countingNotifier struct {
	events []rbac.ChangeEvent
}

func (n *countingNotifier) Publish(_ context.Context, event rbac.ChangeEvent) error {
	n.events = append(n.events, event)
	return nil
}

type serviceHarness struct {
	fixture
	guard    *rbac.Guard
	service  *rbac.Service
	audit    *auditSink
	notifier *countingNotifier
}

func newServiceHarness(t *testing.T) serviceHarness {
	t.Helper()
	f := seedReporting(t)
	guard, _, _ := newGuard(t, f)
	sink := &auditSink{}
	notifier := &countingNotifier{}
	svc := rbac.NewService(f.store, guard, rbac.ServiceConfig{Audit: sink, Notifier: notifier})
	return serviceHarness{fixture: f, guard: guard, service: svc, audit: sink, notifier: notifier}
}

func adminContext() context.Context {
	return shared.ContextWithUserID(context.Background(), 900)
}

func TestServiceRevocationTakesEffectImmediately(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	require.NoError(t, h.guard.RequirePermission(ctx, h.user.ID, "export_data"))
	require.NoError(t, h.service.RevokePermission(ctx, h.analyst.ID, h.perms["export_data"].ID))

	err := h.guard.RequirePermission(ctx, h.user.ID, "export_data")
	assert.True(t, rbac.IsDenied(err))
	assert.Equal(t, []string{"role_permission.revoke"}, h.audit.actions())
	assert.EqualValues(t, 900, h.audit.entries[0].ActorID)
}

func TestServiceAssignRoleInvalidatesOnlyThatUser(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()
	other := h.store.AddUser("other@example.com", true)
	h.store.Assign(other.ID, h.analyst.ID)
	admin := h.store.AddRole("ADMIN", true)
	h.store.Link(admin.ID, h.perms["manage_roles"].ID)

	ok, err := h.guard.HasPermission(ctx, h.user.ID, "manage_roles")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = h.guard.Permissions(ctx, other.ID)
	require.NoError(t, err)
	lookups := h.store.GrantLookups.Load()

	require.NoError(t, h.service.AssignRole(ctx, h.user.ID, admin.ID))

	ok, err = h.guard.HasPermission(ctx, h.user.ID, "manage_roles")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = h.guard.Permissions(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, lookups+1, h.store.GrantLookups.Load(), "other user stays cached")

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, rbac.ChangeEvent{Scope: rbac.ScopeUser, UserID: h.user.ID}, h.notifier.events[0])
}

func TestServiceRoleDeletionClearsEveryone(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	require.NoError(t, h.guard.RequirePermission(ctx, h.user.ID, "upload_omzet"))
	require.NoError(t, h.service.DeleteRole(ctx, h.uploader.ID))

	assert.True(t, rbac.IsDenied(h.guard.RequirePermission(ctx, h.user.ID, "upload_omzet")))
	assert.NoError(t, h.guard.RequirePermission(ctx, h.user.ID, "view_dashboard"), "still granted via ANALYST")
	assert.Equal(t, rbac.ScopeAll, h.notifier.events[0].Scope)
}

func TestServiceSystemRecordsAreProtected(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()
	admin := h.store.AddRole("ADMIN", true)

	err := h.service.DeleteRole(ctx, admin.ID)
	assert.ErrorIs(t, err, rbac.ErrSystemRecord)
	assert.ErrorIs(t, err, rbac.ErrConflict)

	_, err = h.service.UpdateRole(ctx, admin.ID, rbac.RoleInput{Name: "superuser"})
	assert.ErrorIs(t, err, rbac.ErrSystemRecord)

	updated, err := h.service.UpdateRole(ctx, admin.ID, rbac.RoleInput{Name: "admin", Description: "Full access"})
	require.NoError(t, err)
	assert.Equal(t, "Full access", updated.Description)

	err = h.service.DeletePermission(ctx, h.perms["manage_roles"].ID)
	assert.ErrorIs(t, err, rbac.ErrSystemRecord)

	_, err = h.service.UpdatePermission(ctx, h.perms["manage_roles"].ID, rbac.PermissionInput{
		Slug: "manage_roles", Name: "Renamed", Module: "SETTINGS",
	})
	assert.ErrorIs(t, err, rbac.ErrSystemRecord)
}

func TestServiceDeletePermissionStillReferenced(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	perm, err := h.service.CreatePermission(ctx, rbac.PermissionInput{
		Slug: "upload_retur", Name: "Upload retur", Module: "upload",
	})
	require.NoError(t, err)
	assert.Equal(t, rbac.ModuleUpload, perm.Module)
	assert.False(t, perm.IsSystem)
	assert.Empty(t, h.notifier.events, "new permissions grant nothing yet")

	require.NoError(t, h.service.GrantPermission(ctx, h.uploader.ID, perm.ID))
	err = h.service.DeletePermission(ctx, perm.ID)
	require.ErrorIs(t, err, rbac.ErrConflict)
	assert.Contains(t, err.Error(), "1 role(s)")

	require.NoError(t, h.service.RevokePermission(ctx, h.uploader.ID, perm.ID))
	require.NoError(t, h.service.DeletePermission(ctx, perm.ID))
	_, err = h.service.GetPermission(ctx, perm.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	assert.Equal(t, []string{
		"permission.create",
		"role_permission.grant",
		"role_permission.revoke",
		"permission.delete",
	}, h.audit.actions())
}

// grantingStore grants the permission right after the reference count, the
// way a concurrent admin request could.
type grantingStore struct {
	*rbactest.Store
	roleID int64
}

func (s grantingStore) CountRolesReferencingPermission(ctx context.Context, permissionID int64) (int, error) {
	count, err := s.Store.CountRolesReferencingPermission(ctx, permissionID)
	if err != nil {
		return 0, err
	}
	return count, s.Store.CreateRolePermission(ctx, s.roleID, permissionID)
}

func TestServiceDeletePermissionLosesRaceToGrant(t *testing.T) {
	f := seedReporting(t)
	ctx := adminContext()
	perm := f.store.AddPermission("export_retur", rbac.ModuleExport, false)
	guard, _, _ := newGuard(t, f)
	sink := &auditSink{}
	svc := rbac.NewService(grantingStore{Store: f.store, roleID: f.analyst.ID}, guard, rbac.ServiceConfig{Audit: sink})

	err := svc.DeletePermission(ctx, perm.ID)
	require.ErrorIs(t, err, rbac.ErrConflict)
	assert.ErrorIs(t, err, rbac.ErrPermissionInUse)

	count, err := f.store.CountRolesReferencingPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the racing grant survives")
	_, err = f.store.GetPermission(ctx, perm.ID)
	assert.NoError(t, err)
	assert.Empty(t, sink.actions())
}

func TestServiceCreateRoleValidation(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	role, err := h.service.CreateRole(ctx, rbac.RoleInput{Name: "  finance  "})
	require.NoError(t, err)
	assert.Equal(t, "FINANCE", role.Name)

	_, err = h.service.CreateRole(ctx, rbac.RoleInput{Name: "Finance"})
	assert.ErrorIs(t, err, rbac.ErrConflict)

	_, err = h.service.CreateRole(ctx, rbac.RoleInput{Name: "   "})
	assert.ErrorIs(t, err, rbac.ErrValidation)
}

func TestServicePermissionValidation(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	cases := map[string]rbac.PermissionInput{
		"bad slug":       {Slug: "9lives", Name: "x", Module: "UPLOAD"},
		"missing name":   {Slug: "ok_slug", Module: "UPLOAD"},
		"unknown module": {Slug: "ok_slug", Name: "x", Module: "BILLING"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.service.CreatePermission(ctx, input)
			assert.ErrorIs(t, err, rbac.ErrValidation)
		})
	}

	_, err := h.service.CreatePermission(ctx, rbac.PermissionInput{Slug: "VIEW_DASHBOARD", Name: "dup", Module: "DASHBOARD"})
	assert.ErrorIs(t, err, rbac.ErrConflict)
}

func TestServiceSetRolePermissions(t *testing.T) {
	h := newServiceHarness(t)
	ctx := adminContext()

	require.NoError(t, h.guard.RequirePermission(ctx, h.user.ID, "export_data"))
	err := h.service.SetRolePermissions(ctx, h.analyst.ID, []int64{h.perms["manage_roles"].ID, 9999})
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	ids := []int64{h.perms["manage_roles"].ID, h.perms["manage_roles"].ID}
	require.NoError(t, h.service.SetRolePermissions(ctx, h.analyst.ID, ids))

	grants, err := h.service.GetRole(ctx, h.analyst.ID)
	require.NoError(t, err)
	require.Len(t, grants.Permissions, 1)
	assert.Equal(t, "manage_roles", grants.Permissions[0].Slug)

	slugs, err := h.guard.Permissions(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"manage_roles", "upload_omzet", "view_dashboard"}, slugs)
}

func TestServicePermissionsByModule(t *testing.T) {
	h := newServiceHarness(t)
	grouped, err := h.service.PermissionsByModule(context.Background())
	require.NoError(t, err)
	require.Len(t, grouped, len(rbac.Modules()))

	byModule := map[rbac.Module]int{}
	for _, g := range grouped {
		byModule[g.Module] = len(g.Permissions)
	}
	assert.Equal(t, 1, byModule[rbac.ModuleDashboard])
	assert.Equal(t, 1, byModule[rbac.ModuleUpload])
	assert.Equal(t, 1, byModule[rbac.ModuleSettings])
	assert.Equal(t, 0, byModule[rbac.ModuleAudit])
	assert.Equal(t, 1, byModule[rbac.ModuleExport])
}

func TestServiceStoreErrorsPropagateWithoutSideEffects(t *testing.T) {
	h := newServiceHarness(t)
	boom := errors.New("write failed")
	h.store.FailOn["DeleteUserRole"] = boom

	err := h.service.RevokeRole(adminContext(), h.user.ID, h.analyst.ID)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.notifier.events)
	assert.Empty(t, h.audit.entries)
}

func TestServiceAuditFailureDoesNotFailMutation(t *testing.T) {
	h := newServiceHarness(t)
	h.audit.err = errors.New("audit table locked")

	user, err := h.service.SetUserActive(adminContext(), h.user.ID, false)
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.Len(t, h.audit.entries, 1)
}
