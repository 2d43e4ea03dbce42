package roles

import (
	"context"

	"github.com/salespulse/salespulse/internal/rbac"
)

// Service is the slice of rbac.Service used by role management endpoints.
type Service interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (RoleDetail, error)
	CreateRole(ctx context.Context, input rbac.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, input rbac.RoleInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

var _ Service = (*rbac.Service)(nil)
