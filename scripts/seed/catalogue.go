package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/salespulse/salespulse/internal/platform/db"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

type seedPermission struct {
	slug        string
	name        string
	description string
	module      rbac.Module
}

type seedRole struct {
	name        string
	description string
	permissions []string
}

var systemPermissions = []seedPermission{
	{shared.PermViewDashboard, "Lihat Dashboard", "View the sales dashboard", rbac.ModuleDashboard},
	{shared.PermUploadOmzet, "Upload Omzet", "Upload revenue files", rbac.ModuleUpload},
	{shared.PermUploadGrossMargin, "Upload Gross Margin", "Upload gross margin files", rbac.ModuleUpload},
	{shared.PermUploadRetur, "Upload Retur", "Upload return files", rbac.ModuleUpload},
	{shared.PermManageUsers, "Kelola User", "Activate users and assign roles", rbac.ModuleSettings},
	{shared.PermManageRoles, "Kelola Role", "Create roles and edit their grants", rbac.ModuleSettings},
	{shared.PermManagePermissions, "Kelola Permission", "Edit the permission catalogue", rbac.ModuleSettings},
	{shared.PermViewAudit, "Lihat Audit Log", "Browse the audit timeline", rbac.ModuleAudit},
	{shared.PermExportData, "Export Data", "Export dashboard data", rbac.ModuleExport},
}

var systemRoles = []seedRole{
	{"ADMIN", "Full access", append(shared.CoreScopes(), shared.ReportingScopes()...)},
	{"ANALYST", "Dashboard and export", []string{shared.PermViewDashboard, shared.PermExportData}},
	{"UPLOADER", "Uploads sales files", []string{
		shared.PermViewDashboard, shared.PermUploadOmzet, shared.PermUploadGrossMargin, shared.PermUploadRetur,
	}},
	{"AUDITOR", "Read-only audit access", []string{shared.PermViewDashboard, shared.PermViewAudit}},
}

// validateCatalogue checks that every role only references known permissions.
func validateCatalogue(perms []seedPermission, roles []seedRole) error {
	known := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if _, err := rbac.ParseModule(string(p.module)); err != nil {
			return fmt.Errorf("permission %s: %w", p.slug, err)
		}
		known[p.slug] = struct{}{}
	}
	for _, role := range roles {
		if role.name != strings.ToUpper(role.name) {
			return fmt.Errorf("role %s: name must be upper case", role.name)
		}
		for _, slug := range role.permissions {
			if _, ok := known[slug]; !ok {
				return fmt.Errorf("role %s references unknown permission %s", role.name, slug)
			}
		}
	}
	return nil
}

func seedCatalogue(ctx context.Context, pool db.TxBeginner) error {
	if err := validateCatalogue(systemPermissions, systemRoles); err != nil {
		return err
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, perm := range systemPermissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO permissions (slug, name, description, module, is_system)
				VALUES ($1, $2, $3, $4, TRUE)
				ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
					module = EXCLUDED.module, is_system = TRUE, updated_at = NOW()`,
				perm.slug, perm.name, perm.description, string(perm.module)); err != nil {
				return fmt.Errorf("permission %s: %w", perm.slug, err)
			}
		}
		for _, role := range systemRoles {
			var roleID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO roles (name, description, is_system)
				VALUES ($1, $2, TRUE)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, is_system = TRUE, updated_at = NOW()
				RETURNING id`, role.name, role.description).Scan(&roleID)
			if err != nil {
				return fmt.Errorf("role %s: %w", role.name, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT $1, id FROM permissions WHERE slug = ANY($2)`, roleID, role.permissions); err != nil {
				return fmt.Errorf("grants for %s: %w", role.name, err)
			}
		}
		return nil
	})
}

func seedAdmin(ctx context.Context, pool db.TxBeginner, email, name, passwordHash string) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		var userID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO users (email, name, password_hash, is_active)
			VALUES (LOWER($1), $2, $3, TRUE)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
			RETURNING id`, email, name, passwordHash).Scan(&userID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = 'ADMIN'
			ON CONFLICT DO NOTHING`, userID)
		return err
	})
}
