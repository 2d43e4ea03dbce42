// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/salespulse/salespulse/internal/rbac"
)

type pair struct {
	left, right int64
}

// Store is a concurrency-safe in-memory rbac.Store. Set Err to make every call
// fail, or FailOn to fail a single method by name.
type Store struct {
	mu sync.Mutex

	nextID      int64
	users       map[int64]rbac.User
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	userRoles   map[pair]time.Time
	rolePerms   map[pair]time.Time

	Err    error
	FailOn map[string]error

	// GrantLookups counts FindUserWithRolesAndPermissions calls.
	GrantLookups atomic.Int64
	// Delay, when set, is slept by FindUserWithRolesAndPermissions.
	Delay time.Duration
}

var _ rbac.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       map[int64]rbac.User{},
		roles:       map[int64]rbac.Role{},
		permissions: map[int64]rbac.Permission{},
		userRoles:   map[pair]time.Time{},
		rolePerms:   map[pair]time.Time{},
		FailOn:      map[string]error{},
	}
}

func (s *Store) fail(method string) error {
	if s.Err != nil {
		return s.Err
	}
	return s.FailOn[method]
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddUser seeds a user and returns it with its assigned ID.
func (s *Store) AddUser(email string, active bool) rbac.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	user := rbac.User{ID: s.id(), Email: email, Name: email, Active: active, CreatedAt: now, UpdatedAt: now}
	s.users[user.ID] = user
	return user
}

// AddRole seeds a role.
func (s *Store) AddRole(name string, system bool) rbac.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	role := rbac.Role{ID: s.id(), Name: name, IsSystem: system, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	return role
}

// AddPermission seeds a permission.
func (s *Store) AddPermission(slug string, module rbac.Module, system bool) rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	perm := rbac.Permission{ID: s.id(), Slug: slug, Name: slug, Module: module, IsSystem: system, CreatedAt: now, UpdatedAt: now}
	s.permissions[perm.ID] = perm
	return perm
}

// Link seeds a role-permission pair.
func (s *Store) Link(roleID, permissionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[pair{roleID, permissionID}] = time.Now()
}

// Assign seeds a user-role pair.
func (s *Store) Assign(userID, roleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[pair{userID, roleID}] = time.Now()
}

func (s *Store) FindUserWithRolesAndPermissions(ctx context.Context, userID int64) (rbac.UserGrants, error) {
	s.GrantLookups.Add(1)
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return rbac.UserGrants{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindUserWithRolesAndPermissions"); err != nil {
		return rbac.UserGrants{}, err
	}
	user, ok := s.users[userID]
	if !ok {
		return rbac.UserGrants{}, rbac.ErrNotFound
	}
	grants := rbac.UserGrants{User: user, Roles: []rbac.RoleGrants{}}
	for link := range s.userRoles {
		if link.left != userID {
			continue
		}
		role, ok := s.roles[link.right]
		if !ok {
			continue
		}
		grants.Roles = append(grants.Roles, rbac.RoleGrants{Role: role, Permissions: s.rolePermissionsLocked(role.ID)})
	}
	sort.Slice(grants.Roles, func(i, j int) bool { return grants.Roles[i].Role.Name < grants.Roles[j].Role.Name })
	return grants, nil
}

func (s *Store) rolePermissionsLocked(roleID int64) []rbac.Permission {
	perms := []rbac.Permission{}
	for link := range s.rolePerms {
		if link.left != roleID {
			continue
		}
		if perm, ok := s.permissions[link.right]; ok {
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Slug < perms[j].Slug })
	return perms
}

func (s *Store) GetUser(ctx context.Context, id int64) (rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetUser"); err != nil {
		return rbac.User{}, err
	}
	user, ok := s.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListUsers"); err != nil {
		return nil, err
	}
	users := make([]rbac.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListActiveUserIDs"); err != nil {
		return nil, err
	}
	ids := []int64{}
	for _, u := range s.users {
		if u.Active {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) (rbac.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetUserActive"); err != nil {
		return rbac.User{}, err
	}
	user, ok := s.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	user.Active = active
	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user
	return user, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetRole"); err != nil {
		return rbac.Role{}, err
	}
	role, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, nil
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindRoleByName"); err != nil {
		return rbac.Role{}, err
	}
	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListRoles"); err != nil {
		return nil, err
	}
	roles := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListRolePermissions"); err != nil {
		return nil, err
	}
	return s.rolePermissionsLocked(roleID), nil
}

func (s *Store) CreateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateRole"); err != nil {
		return rbac.Role{}, err
	}
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return rbac.Role{}, rbac.ErrConflict
		}
	}
	now := time.Now().UTC()
	role.ID = s.id()
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateRole"); err != nil {
		return rbac.Role{}, err
	}
	current, ok := s.roles[role.ID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	for _, existing := range s.roles {
		if existing.ID != role.ID && existing.Name == role.Name {
			return rbac.Role{}, rbac.ErrConflict
		}
	}
	current.Name = role.Name
	current.Description = role.Description
	current.UpdatedAt = time.Now().UTC()
	s.roles[role.ID] = current
	return current, nil
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteRole"); err != nil {
		return err
	}
	if _, ok := s.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.roles, id)
	for link := range s.userRoles {
		if link.right == id {
			delete(s.userRoles, link)
		}
	}
	for link := range s.rolePerms {
		if link.left == id {
			delete(s.rolePerms, link)
		}
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetPermission"); err != nil {
		return rbac.Permission{}, err
	}
	perm, ok := s.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return perm, nil
}

func (s *Store) FindPermissionBySlug(ctx context.Context, slug string) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindPermissionBySlug"); err != nil {
		return rbac.Permission{}, err
	}
	for _, perm := range s.permissions {
		if perm.Slug == slug {
			return perm, nil
		}
	}
	return rbac.Permission{}, rbac.ErrNotFound
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListPermissions"); err != nil {
		return nil, err
	}
	perms := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Slug < perms[j].Slug })
	return perms, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreatePermission"); err != nil {
		return rbac.Permission{}, err
	}
	for _, existing := range s.permissions {
		if existing.Slug == perm.Slug {
			return rbac.Permission{}, rbac.ErrConflict
		}
	}
	now := time.Now().UTC()
	perm.ID = s.id()
	perm.CreatedAt, perm.UpdatedAt = now, now
	s.permissions[perm.ID] = perm
	return perm, nil
}

func (s *Store) UpdatePermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdatePermission"); err != nil {
		return rbac.Permission{}, err
	}
	current, ok := s.permissions[perm.ID]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	for _, existing := range s.permissions {
		if existing.ID != perm.ID && existing.Slug == perm.Slug {
			return rbac.Permission{}, rbac.ErrConflict
		}
	}
	current.Slug = perm.Slug
	current.Name = perm.Name
	current.Description = perm.Description
	current.Module = perm.Module
	current.UpdatedAt = time.Now().UTC()
	s.permissions[perm.ID] = current
	return current, nil
}

func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeletePermission"); err != nil {
		return err
	}
	if _, ok := s.permissions[id]; !ok {
		return rbac.ErrNotFound
	}
	for link := range s.rolePerms {
		if link.right == id {
			return rbac.ErrPermissionInUse
		}
	}
	delete(s.permissions, id)
	return nil
}

func (s *Store) CountRolesReferencingPermission(ctx context.Context, permissionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CountRolesReferencingPermission"); err != nil {
		return 0, err
	}
	count := 0
	for link := range s.rolePerms {
		if link.right == permissionID {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateUserRole(ctx context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateUserRole"); err != nil {
		return err
	}
	if _, ok := s.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	key := pair{userID, roleID}
	if _, ok := s.userRoles[key]; ok {
		return rbac.ErrConflict
	}
	s.userRoles[key] = time.Now()
	return nil
}

func (s *Store) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteUserRole"); err != nil {
		return err
	}
	key := pair{userID, roleID}
	if _, ok := s.userRoles[key]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.userRoles, key)
	return nil
}

func (s *Store) CreateRolePermission(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateRolePermission"); err != nil {
		return err
	}
	key := pair{roleID, permissionID}
	if _, ok := s.rolePerms[key]; ok {
		return rbac.ErrConflict
	}
	s.rolePerms[key] = time.Now()
	return nil
}

func (s *Store) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteRolePermission"); err != nil {
		return err
	}
	key := pair{roleID, permissionID}
	if _, ok := s.rolePerms[key]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.rolePerms, key)
	return nil
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReplaceRolePermissions"); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		if _, ok := s.permissions[id]; !ok {
			return rbac.ErrNotFound
		}
	}
	for link := range s.rolePerms {
		if link.left == roleID {
			delete(s.rolePerms, link)
		}
	}
	for _, id := range permissionIDs {
		s.rolePerms[pair{roleID, id}] = time.Now()
	}
	return nil
}
