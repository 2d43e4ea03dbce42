// Package dashboard serves the navigation shown after sign-in, trimmed to what
// the caller may open.
package dashboard

import (
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

// Item is one navigation entry.
type Item struct {
	Label       string           `json:"label"`
	Path        string           `json:"path"`
	Requirement rbac.Requirement `json:"-"`
}

// Section groups items under a permission module.
type Section struct {
	Module rbac.Module `json:"module"`
	Title  string      `json:"title"`
	Items  []Item      `json:"items"`
}

// DefaultNavigation lists every screen of the application.
func DefaultNavigation() []Section {
	return []Section{
		{Module: rbac.ModuleDashboard, Title: "Dashboard", Items: []Item{
			{Label: "Ringkasan penjualan", Path: "/dashboard", Requirement: rbac.RequirePermission(shared.PermViewDashboard)},
		}},
		{Module: rbac.ModuleUpload, Title: "Upload", Items: []Item{
			{Label: "Omzet", Path: "/upload/omzet", Requirement: rbac.RequirePermission(shared.PermUploadOmzet)},
			{Label: "Gross margin", Path: "/upload/gross-margin", Requirement: rbac.RequirePermission(shared.PermUploadGrossMargin)},
			{Label: "Retur", Path: "/upload/retur", Requirement: rbac.RequirePermission(shared.PermUploadRetur)},
		}},
		{Module: rbac.ModuleSettings, Title: "Pengaturan", Items: []Item{
			{Label: "Pengguna", Path: "/settings/users", Requirement: rbac.RequirePermission(shared.PermManageUsers)},
			{Label: "Role", Path: "/settings/roles", Requirement: rbac.RequirePermission(shared.PermManageRoles)},
			{Label: "Permission", Path: "/settings/permissions", Requirement: rbac.RequireAnyOf(shared.PermManagePermissions, shared.PermManageRoles)},
		}},
		{Module: rbac.ModuleAudit, Title: "Audit", Items: []Item{
			{Label: "Jejak audit", Path: "/audit", Requirement: rbac.RequirePermission(shared.PermViewAudit)},
		}},
		{Module: rbac.ModuleExport, Title: "Export", Items: []Item{
			{Label: "Export data", Path: "/export", Requirement: rbac.RequirePermission(shared.PermExportData)},
		}},
	}
}

// Visible filters sections down to the items set satisfies. Sections left
// empty are dropped.
func Visible(sections []Section, set rbac.PermissionSet) []Section {
	out := make([]Section, 0, len(sections))
	for _, section := range sections {
		items := make([]Item, 0, len(section.Items))
		for _, item := range section.Items {
			if item.Requirement.SatisfiedBy(set) {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		section.Items = items
		out = append(out, section)
	}
	return out
}
