package rbac

// Permission names a capability. The set is closed: roles may only grant
// permissions listed in AllPermissions.
type Permission string

const (
	ReadProspects   Permission = "read_prospects"
	WriteProspects  Permission = "write_prospects"
	DeleteProspects Permission = "delete_prospects"

	ExecuteTools Permission = "execute_tools"
	ManageTools  Permission = "manage_tools"

	ViewAgents    Permission = "view_agents"
	ManageAgents  Permission = "manage_agents"
	ExecuteAgents Permission = "execute_agents"

	ViewAnalytics   Permission = "view_analytics"
	ExportAnalytics Permission = "export_analytics"

	ViewUsers   Permission = "view_users"
	ManageUsers Permission = "manage_users"

	ViewSystem   Permission = "view_system"
	ManageSystem Permission = "manage_system"
	AdminAccess  Permission = "admin_access"

	UploadFiles Permission = "upload_files"
	DeleteFiles Permission = "delete_files"

	ManageIntegrations Permission = "manage_integrations"
	ViewIntegrations   Permission = "view_integrations"
)

var allPermissions = []Permission{
	ReadProspects, WriteProspects, DeleteProspects,
	ExecuteTools, ManageTools,
	ViewAgents, ManageAgents, ExecuteAgents,
	ViewAnalytics, ExportAnalytics,
	ViewUsers, ManageUsers,
	ViewSystem, ManageSystem, AdminAccess,
	UploadFiles, DeleteFiles,
	ManageIntegrations, ViewIntegrations,
}

// AllPermissions returns the permission universe in catalog order.
func AllPermissions() []Permission {
	return append([]Permission(nil), allPermissions...)
}

// Names of the built-in roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// DefaultRole is applied to principals whose role is unknown.
const DefaultRole = RoleViewer

var viewerPermissions = []Permission{
	ReadProspects,
	ViewAnalytics,
	ViewAgents,
	ViewIntegrations,
}

var operatorPermissions = append(append([]Permission(nil), viewerPermissions...),
	WriteProspects,
	ExecuteTools,
	ExecuteAgents,
	UploadFiles,
)

var managerPermissions = append(append([]Permission(nil), operatorPermissions...),
	DeleteProspects,
	ManageTools,
	ManageAgents,
	ExportAnalytics,
	ViewUsers,
	DeleteFiles,
	ManageIntegrations,
)

// SystemRoles returns the built-in hierarchy viewer ⊂ operator ⊂ manager ⊂ admin.
func SystemRoles() []Role {
	return []Role{
		{
			Name:         RoleViewer,
			Description:  "Read-only access to prospects and analytics",
			Permissions:  append([]Permission(nil), viewerPermissions...),
			IsSystemRole: true,
		},
		{
			Name:         RoleOperator,
			Description:  "Can execute tools and manage prospects",
			Permissions:  append([]Permission(nil), operatorPermissions...),
			IsSystemRole: true,
		},
		{
			Name:         RoleManager,
			Description:  "Can manage agents and export analytics",
			Permissions:  append([]Permission(nil), managerPermissions...),
			IsSystemRole: true,
		},
		{
			Name:         RoleAdmin,
			Description:  "Full system access",
			Permissions:  AllPermissions(),
			IsSystemRole: true,
		},
	}
}
