package shared

import "github.com/kinoteka/kinoteka/internal/authz"

// Core admin permissions.
const (
	PermUsersView = "users_view"
	PermUsersEdit = "users_edit"

	PermRolesView = "roles_view"
	PermRolesEdit = "roles_edit"

	PermPermissionsView = "permissions_view"

	PermAuditView = "audit_view"

	PermContentView   = "content_view"
	PermContentEdit   = "content_edit"
	PermContentUpload = "content_upload"
)

// CoreScopes lists all permissions seeded with the catalog.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermAuditView,
		PermContentView,
		PermContentEdit,
		PermContentUpload,
	}
}

// ScopesForTier returns the permissions granted by default to the canonical tier
// hierarchy. Higher tiers include everything granted below them.
func ScopesForTier(hierarchy int) []string {
	var scopes []string
	if hierarchy >= int(authz.TierMember) {
		scopes = append(scopes, PermContentView)
	}
	if hierarchy >= int(authz.TierContributor) {
		scopes = append(scopes, PermContentUpload)
	}
	if hierarchy >= int(authz.TierEditor) {
		scopes = append(scopes, PermContentEdit)
	}
	if hierarchy >= int(authz.TierModerator) {
		scopes = append(scopes, PermUsersView, PermRolesView, PermPermissionsView)
	}
	if hierarchy >= int(authz.TierAdmin) {
		scopes = append(scopes, PermUsersEdit, PermRolesEdit, PermAuditView)
	}
	return scopes
}
