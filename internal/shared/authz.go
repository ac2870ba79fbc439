package shared

// Core platform permissions guarding the engine's own administrative surface.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView   = "permissions.view"
	PermPermissionsManage = "permissions.manage"

	PermAuditView = "audit.view"
)

// CoreScopes lists all permissions related to the access-control core.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsManage,
		PermAuditView,
	}
}
