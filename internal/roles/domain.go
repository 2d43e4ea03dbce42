package roles

import "github.com/salespulse/salespulse/internal/rbac"

// RoleDetail is a role with the permissions it grants.
type RoleDetail = rbac.RoleGrants

// setPermissionsRequest replaces a role's permission list.
type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permissionIds"`
}
