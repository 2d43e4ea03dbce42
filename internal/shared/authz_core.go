package shared

// Core platform permissions.
const (
	PermManageUsers       = "manage_users"
	PermManageRoles       = "manage_roles"
	PermManagePermissions = "manage_permissions"
)

// Reporting permissions.
const (
	PermViewDashboard     = "view_dashboard"
	PermUploadOmzet       = "upload_omzet"
	PermUploadGrossMargin = "upload_gross_margin"
	PermUploadRetur       = "upload_retur"
	PermViewAudit         = "view_audit"
	PermExportData        = "export_data"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermManageUsers,
		PermManageRoles,
		PermManagePermissions,
	}
}

// ReportingScopes lists the dashboard, upload, audit and export permissions.
func ReportingScopes() []string {
	return []string{
		PermViewDashboard,
		PermUploadOmzet,
		PermUploadGrossMargin,
		PermUploadRetur,
		PermViewAudit,
		PermExportData,
	}
}
