package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Module groups permissions for administrative organisation.
type Module string

const (
	ModuleDashboard Module = "DASHBOARD"
	ModuleUpload    Module = "UPLOAD"
	ModuleSettings  Module = "SETTINGS"
	ModuleAudit     Module = "AUDIT"
	ModuleExport    Module = "EXPORT"
)

// Modules lists the closed set of permission modules in display order.
func Modules() []Module {
	return []Module{ModuleDashboard, ModuleUpload, ModuleSettings, ModuleAudit, ModuleExport}
}

// ParseModule validates a module name.
func ParseModule(raw string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Modules() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown module %q", ErrValidation, raw)
}

// User is an account that can hold role assignments.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role represents a named permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"isSystem"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Module      Module    `json:"module"`
	IsSystem    bool      `json:"isSystem"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// RoleGrants is a role together with its linked permissions.
type RoleGrants struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// UserGrants is a user together with every assigned role and its permissions.
type UserGrants struct {
	User  User         `json:"user"`
	Roles []RoleGrants `json:"roles"`
}

// ModulePermissions is one module bucket of the permission catalogue.
type ModulePermissions struct {
	Module      Module       `json:"module"`
	Permissions []Permission `json:"permissions"`
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
