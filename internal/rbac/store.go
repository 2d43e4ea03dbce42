package rbac

import "context"

// Store is the persistence port for users, roles, permissions and their links.
// Implementations return ErrNotFound for missing rows and ErrConflict for
// unique violations.
type Store interface {
	FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (UserGrants, error)

	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
	SetUserActive(ctx context.Context, id int64, active bool) (User, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	GetPermission(ctx context.Context, id int64) (Permission, error)
	FindPermissionBySlug(ctx context.Context, slug string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	// DeletePermission refuses with ErrPermissionInUse while any role grants id.
	DeletePermission(ctx context.Context, id int64) error
	CountRolesReferencingPermission(ctx context.Context, permissionID int64) (int, error)

	CreateUserRole(ctx context.Context, userID, roleID int64) error
	DeleteUserRole(ctx context.Context, userID, roleID int64) error

	CreateRolePermission(ctx context.Context, roleID, permissionID int64) error
	DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}
