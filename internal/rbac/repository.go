package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/salespulse/salespulse/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const userColumns = `id, email, name, is_active, created_at, updated_at`
const roleColumns = `id, name, description, is_system, created_at, updated_at`
const permissionColumns = `id, slug, name, description, module, is_system, created_at, updated_at`

// FindUserWithRolesAndPermissions reads the user and grants from one snapshot.
func (s *PGStore) FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (UserGrants, error) {
	var grants UserGrants
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := db.WithTxOptions(ctx, s.pool, opts, func(tx pgx.Tx) error {
		user, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		grants.User = user
		rows, err := tx.Query(ctx, `
SELECT r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at,
       p.id, p.slug, p.name, p.description, p.module, p.is_system, p.created_at, p.updated_at
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY r.name, p.slug`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		index := make(map[int64]int)
		for rows.Next() {
			var (
				role                         Role
				permID                       *int64
				slug, name, desc, module     *string
				permSystem                   *bool
				permCreatedAt, permUpdatedAt *time.Time
			)
			if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt,
				&permID, &slug, &name, &desc, &module, &permSystem, &permCreatedAt, &permUpdatedAt); err != nil {
				return err
			}
			pos, ok := index[role.ID]
			if !ok {
				pos = len(grants.Roles)
				index[role.ID] = pos
				grants.Roles = append(grants.Roles, RoleGrants{Role: role, Permissions: []Permission{}})
			}
			if permID == nil {
				continue
			}
			grants.Roles[pos].Permissions = append(grants.Roles[pos].Permissions, Permission{
				ID:          *permID,
				Slug:        deref(slug),
				Name:        deref(name),
				Description: deref(desc),
				Module:      Module(deref(module)),
				IsSystem:    permSystem != nil && *permSystem,
				CreatedAt:   derefTime(permCreatedAt),
				UpdatedAt:   derefTime(permUpdatedAt),
			})
		}
		return rows.Err()
	})
	if err != nil {
		return UserGrants{}, mapPGError(err)
	}
	if grants.Roles == nil {
		grants.Roles = []RoleGrants{}
	}
	return grants, nil
}

// GetUser fetches a user by ID.
func (s *PGStore) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := getUser(ctx, s.pool, id)
	return user, mapPGError(err)
}

func getUser(ctx context.Context, q querier, id int64) (User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (s *PGStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ListActiveUserIDs returns the IDs of every active user.
func (s *PGStore) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetUserActive updates the activation flag of a user.
func (s *PGStore) SetUserActive(ctx context.Context, id int64, active bool) (User, error) {
	row := s.pool.QueryRow(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, active)
	user, err := scanUser(row)
	return user, mapPGError(err)
}

// GetRole fetches a role by ID.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	return role, mapPGError(err)
}

// FindRoleByName fetches a role by its normalised name.
func (s *PGStore) FindRoleByName(ctx context.Context, name string) (Role, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
	role, err := scanRole(row)
	return role, mapPGError(err)
}

// ListRoles returns all roles ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListRolePermissions returns the permissions granted to a role.
func (s *PGStore) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT p.id, p.slug, p.name, p.description, p.module, p.is_system, p.created_at, p.updated_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.slug`, roleID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// CreateRole inserts a role.
func (s *PGStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO roles (name, description, is_system, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
RETURNING `+roleColumns, role.Name, role.Description, role.IsSystem)
	created, err := scanRole(row)
	return created, mapPGError(err)
}

// UpdateRole writes name and description of a role.
func (s *PGStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE roles SET name = $2, description = $3, updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns, role.ID, role.Name, role.Description)
	updated, err := scanRole(row)
	return updated, mapPGError(err)
}

// DeleteRole removes a role; join rows cascade.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	return execAffecting(ctx, s.pool, `DELETE FROM roles WHERE id = $1`, id)
}

// GetPermission fetches a permission by ID.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	return perm, mapPGError(err)
}

// FindPermissionBySlug fetches a permission by slug.
func (s *PGStore) FindPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE slug = $1`, slug)
	perm, err := scanPermission(row)
	return perm, mapPGError(err)
}

// ListPermissions returns the catalogue ordered by module and slug.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, slug`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// CreatePermission inserts a permission.
func (s *PGStore) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO permissions (slug, name, description, module, is_system, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING `+permissionColumns, perm.Slug, perm.Name, perm.Description, string(perm.Module), perm.IsSystem)
	created, err := scanPermission(row)
	return created, mapPGError(err)
}

// UpdatePermission writes the editable permission columns.
func (s *PGStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE permissions SET slug = $2, name = $3, description = $4, module = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+permissionColumns, perm.ID, perm.Slug, perm.Name, perm.Description, string(perm.Module))
	updated, err := scanPermission(row)
	return updated, mapPGError(err)
}

// DeletePermission removes a permission no role grants. The reference check is
// part of the DELETE itself; a grant racing past it trips ON DELETE RESTRICT.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM permissions p
WHERE p.id = $1
  AND NOT EXISTS (SELECT 1 FROM role_permissions rp WHERE rp.permission_id = p.id)`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrPermissionInUse
		}
		return mapPGError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapPGError(err)
	}
	if exists {
		return ErrPermissionInUse
	}
	return ErrNotFound
}

// CountRolesReferencingPermission counts roles granting the permission.
func (s *PGStore) CountRolesReferencingPermission(ctx context.Context, permissionID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&count)
	return count, mapPGError(err)
}

// CreateUserRole assigns a role to a user.
func (s *PGStore) CreateUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())`, userID, roleID)
	return mapPGError(err)
}

// DeleteUserRole revokes a role from a user.
func (s *PGStore) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	return execAffecting(ctx, s.pool, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
}

// CreateRolePermission grants a permission to a role.
func (s *PGStore) CreateRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`, roleID, permissionID)
	return mapPGError(err)
}

// DeleteRolePermission revokes a permission from a role.
func (s *PGStore) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	return execAffecting(ctx, s.pool, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
}

// ReplaceRolePermissions swaps the full permission list of a role atomically.
func (s *PGStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
INSERT INTO role_permissions (role_id, permission_id, created_at)
SELECT $1, unnest($2::bigint[]), NOW()`, roleID, permissionIDs)
		return err
	})
	return mapPGError(err)
}

func execAffecting(ctx context.Context, q querier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var (
		perm   Permission
		module string
	)
	err := row.Scan(&perm.ID, &perm.Slug, &perm.Name, &perm.Description, &module, &perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt)
	perm.Module = Module(module)
	return perm, err
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	perms := []Permission{}
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// mapPGError translates driver errors into package sentinels.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return conflictf("%s already exists", pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
