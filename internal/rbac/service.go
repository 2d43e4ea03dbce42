package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/salespulse/salespulse/internal/audit"
	"github.com/salespulse/salespulse/internal/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)

// RoleInput carries the editable fields of a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// PermissionInput carries the editable fields of a permission.
type PermissionInput struct {
	Slug        string `json:"slug" validate:"required,max=100,slug"`
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=255"`
	Module      string `json:"module" validate:"required"`
}

// AuditRecorder stores an audit trail of administrative changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// ServiceConfig holds optional collaborators of Service.
type ServiceConfig struct {
	Logger   *slog.Logger
	Notifier ChangeNotifier
	Audit    AuditRecorder
}

// Service orchestrates RBAC administration. Every successful mutation clears
// the affected cached permission sets before returning.
type Service struct {
	store       Store
	invalidator Invalidator
	notifier    ChangeNotifier
	audit       AuditRecorder
	validate    *validator.Validate
	logger      *slog.Logger
	upper       cases.Caser
}

// NewService constructs a Service. inv is usually the Guard serving requests.
func NewService(store Store, inv Invalidator, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	validate := validator.New()
	_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(normalizeSlug(fl.Field().String()))
	})
	return &Service{
		store:       store,
		invalidator: inv,
		notifier:    cfg.Notifier,
		audit:       cfg.Audit,
		validate:    validate,
		logger:      cfg.Logger,
		upper:       cases.Upper(language.Und),
	}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role together with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleGrants, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return RoleGrants{}, err
	}
	perms, err := s.store.ListRolePermissions(ctx, id)
	if err != nil {
		return RoleGrants{}, err
	}
	return RoleGrants{Role: role, Permissions: perms}, nil
}

// CreateRole inserts a new, non-system role.
func (s *Service) CreateRole(ctx context.Context, input RoleInput) (Role, error) {
	name, err := s.roleName(input)
	if err != nil {
		return Role{}, err
	}
	if err := s.ensureRoleNameFree(ctx, name, 0); err != nil {
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, Role{Name: name, Description: strings.TrimSpace(input.Description)})
	if err != nil {
		return Role{}, err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role.create", "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole edits a role. System roles keep their name.
func (s *Service) UpdateRole(ctx context.Context, id int64, input RoleInput) (Role, error) {
	name, err := s.roleName(input)
	if err != nil {
		return Role{}, err
	}
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.IsSystem && name != current.Name {
		return Role{}, fmt.Errorf("%w: role %s cannot be renamed", ErrSystemRecord, current.Name)
	}
	if err := s.ensureRoleNameFree(ctx, name, id); err != nil {
		return Role{}, err
	}
	current.Name = name
	current.Description = strings.TrimSpace(input.Description)
	role, err := s.store.UpdateRole(ctx, current)
	if err != nil {
		return Role{}, err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role.update", "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// DeleteRole removes a non-system role and every assignment of it.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: role %s cannot be deleted", ErrSystemRecord, role.Name)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role.delete", "role", id, map[string]any{"name": role.Name})
	return nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermission fetches one permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.store.GetPermission(ctx, id)
}

// PermissionsByModule groups the catalogue by module. Every module is present,
// in declaration order, even when empty.
func (s *Service) PermissionsByModule(ctx context.Context) ([]ModulePermissions, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	buckets := make(map[Module][]Permission, len(Modules()))
	for _, perm := range perms {
		buckets[perm.Module] = append(buckets[perm.Module], perm)
	}
	grouped := make([]ModulePermissions, 0, len(Modules()))
	for _, module := range Modules() {
		items := buckets[module]
		if items == nil {
			items = []Permission{}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
		grouped = append(grouped, ModulePermissions{Module: module, Permissions: items})
	}
	return grouped, nil
}

// CreatePermission registers a new, non-system permission.
func (s *Service) CreatePermission(ctx context.Context, input PermissionInput) (Permission, error) {
	perm, err := s.permissionFromInput(input)
	if err != nil {
		return Permission{}, err
	}
	if err := s.ensureSlugFree(ctx, perm.Slug, 0); err != nil {
		return Permission{}, err
	}
	created, err := s.store.CreatePermission(ctx, perm)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, "permission.create", "permission", created.ID, map[string]any{"slug": created.Slug, "module": created.Module})
	return created, nil
}

// UpdatePermission edits a non-system permission.
func (s *Service) UpdatePermission(ctx context.Context, id int64, input PermissionInput) (Permission, error) {
	next, err := s.permissionFromInput(input)
	if err != nil {
		return Permission{}, err
	}
	current, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if current.IsSystem {
		return Permission{}, fmt.Errorf("%w: permission %s cannot be edited", ErrSystemRecord, current.Slug)
	}
	if err := s.ensureSlugFree(ctx, next.Slug, id); err != nil {
		return Permission{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdatePermission(ctx, next)
	if err != nil {
		return Permission{}, err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "permission.update", "permission", id, map[string]any{"slug": updated.Slug, "previous_slug": current.Slug})
	return updated, nil
}

// DeletePermission removes a permission no role references.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return fmt.Errorf("%w: permission %s cannot be deleted", ErrSystemRecord, perm.Slug)
	}
	refs, err := s.store.CountRolesReferencingPermission(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return conflictf("permission %s is still granted to %d role(s)", perm.Slug, refs)
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "permission.delete", "permission", id, map[string]any{"slug": perm.Slug})
	return nil
}

// GrantPermission links a permission to a role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.store.CreateRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role_permission.grant", "role", roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// RevokePermission unlinks a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.store.DeleteRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role_permission.revoke", "role", roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// SetRolePermissions replaces the permissions of a role in one transaction.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(permissionIDs))
	ids := make([]int64, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, err := s.store.GetPermission(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: permission %d", ErrNotFound, id)
			}
			return err
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := s.store.ReplaceRolePermissions(ctx, roleID, ids); err != nil {
		return err
	}
	s.changed(ctx, ScopeAll, 0)
	s.record(ctx, "role_permission.replace", "role", roleID, map[string]any{"permission_ids": ids})
	return nil
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser returns a user with assigned roles and their permissions.
func (s *Service) GetUser(ctx context.Context, id int64) (UserGrants, error) {
	return s.store.FindUserWithRolesAndPermissions(ctx, id)
}

// AssignRole gives userID the role roleID.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.CreateUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.changed(ctx, ScopeUser, userID)
	s.record(ctx, "user_role.assign", "user", userID, map[string]any{"role_id": roleID})
	return nil
}

// RevokeRole removes roleID from userID.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if err := s.store.DeleteUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.changed(ctx, ScopeUser, userID)
	s.record(ctx, "user_role.revoke", "user", userID, map[string]any{"role_id": roleID})
	return nil
}

// SetUserActive toggles whether a user may sign in.
func (s *Service) SetUserActive(ctx context.Context, id int64, active bool) (User, error) {
	user, err := s.store.SetUserActive(ctx, id, active)
	if err != nil {
		return User{}, err
	}
	s.changed(ctx, ScopeUser, id)
	s.record(ctx, "user.set_active", "user", id, map[string]any{"active": active})
	return user, nil
}

func (s *Service) roleName(input RoleInput) (string, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return "", validationError(err)
	}
	return s.upper.String(input.Name), nil
}

func (s *Service) permissionFromInput(input PermissionInput) (Permission, error) {
	input.Slug = normalizeSlug(input.Slug)
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Permission{}, validationError(err)
	}
	module, err := ParseModule(input.Module)
	if err != nil {
		return Permission{}, err
	}
	return Permission{
		Slug:        input.Slug,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Module:      module,
	}, nil
}

func (s *Service) ensureRoleNameFree(ctx context.Context, name string, selfID int64) error {
	existing, err := s.store.FindRoleByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return conflictf("role %s already exists", name)
	}
	return nil
}

func (s *Service) ensureSlugFree(ctx context.Context, slug string, selfID int64) error {
	existing, err := s.store.FindPermissionBySlug(ctx, slug)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return conflictf("permission %s already exists", slug)
	}
	return nil
}

// changed clears cached permission sets and tells other processes. Failures
// are logged; the TTL still bounds staleness.
func (s *Service) changed(ctx context.Context, scope string, userID int64) {
	if s.invalidator != nil {
		var err error
		if scope == ScopeUser {
			err = s.invalidator.Invalidate(ctx, userID)
		} else {
			err = s.invalidator.InvalidateAll(ctx)
		}
		if err != nil {
			s.logger.Error("invalidate permission cache", slog.String("scope", scope), slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	if err := s.notifier.Publish(ctx, ChangeEvent{Scope: scope, UserID: userID}); err != nil {
		s.logger.Warn("publish permission change", slog.String("scope", scope), slog.Any("error", err))
	}
}

// record appends to the audit trail, attributing the change to the caller.
func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actorID, _ := shared.UserIDFromContext(ctx)
	entry := audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record audit entry", slog.String("action", action), slog.Any("error", err))
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationf("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return validationf("%s", strings.Join(msgs, "; "))
}
