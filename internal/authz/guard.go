package authz

// CanManage reports whether actor strictly outranks target.
func CanManage(actor, target Principal) bool {
	return actor.Hierarchy() > target.Hierarchy()
}

// CanAssignRole reports whether actor strictly outranks the given role hierarchy.
// It gates both assigning a role to a user and defining a role at that level.
func CanAssignRole(actor Principal, hierarchy int) bool {
	return actor.Hierarchy() > hierarchy
}

// CanMutatePermissionCatalog reports whether actor sits at the top tier. The
// catalog is never delegated by relative comparison.
func CanMutatePermissionCatalog(actor Principal) bool {
	return actor.Role != nil && actor.Hierarchy() == int(TierSuperAdmin)
}

// AuthorizeManage returns a denial unless actor may manage target.
func AuthorizeManage(actor, target Principal) error {
	if CanManage(actor, target) {
		return nil
	}
	return Deny(KindAuthorization, "", ReasonCannotManage)
}

// AuthorizeAssign returns a denial unless actor may assign role.
func AuthorizeAssign(actor Principal, role Role) error {
	if CanAssignRole(actor, role.Hierarchy) {
		return nil
	}
	return Deny(KindAuthorization, "role_id", ReasonCannotAssign)
}

// AuthorizeRoleChange checks a role definition change. Both the current and the
// proposed hierarchy must sit strictly below the actor.
func AuthorizeRoleChange(actor Principal, current Role, proposed int) error {
	if !CanAssignRole(actor, current.Hierarchy) {
		return Deny(KindAuthorization, "", ReasonCannotEditRole)
	}
	if !CanAssignRole(actor, proposed) {
		return Deny(KindAuthorization, "hierarchy", ReasonCannotAssign)
	}
	return nil
}

// AuthorizeCatalog returns a denial unless actor may change permission definitions.
func AuthorizeCatalog(actor Principal) error {
	if CanMutatePermissionCatalog(actor) {
		return nil
	}
	return Deny(KindCatalogRestricted, "", ReasonCatalogRestricted)
}

// AdminPools counts active principals per admin-class tier (admin, super_admin).
type AdminPools map[Tier]int

// CheckLastAdmin rejects changes that would empty an admin-class tier. affected
// lists the distinct principals that lose their current tier standing.
func CheckLastAdmin(pools AdminPools, affected []Principal, field string) error {
	lost := make(map[Tier]int)
	for _, p := range affected {
		if p.Active && p.IsAdminTier() {
			lost[p.Tier()]++
		}
	}
	for tier, n := range lost {
		if pools[tier]-n < 1 {
			return Deny(KindBusinessRule, field, ReasonLastAdmin)
		}
	}
	return nil
}

// LosesStanding reports whether moving target to newHierarchy drops it out of its
// admin-class tier.
func LosesStanding(target Principal, newHierarchy int) bool {
	return target.IsAdminTier() && TierOf(newHierarchy) != target.Tier()
}
