package authz

// Role is the hierarchy-bearing view of a role used for decisions.
type Role struct {
	ID        int64
	Name      string
	Hierarchy int
}

// Principal is an actor or target of an administrative decision.
type Principal struct {
	ID     int64
	Role   *Role
	Active bool
}

// Hierarchy returns the effective hierarchy of the principal. Principals without a
// role sit at the lowest tier.
func (p Principal) Hierarchy() int {
	if p.Role == nil {
		return MinHierarchy
	}
	return p.Role.Hierarchy
}

// Tier returns the canonical tier the principal falls into.
func (p Principal) Tier() Tier {
	return TierOf(p.Hierarchy())
}

// IsAdminTier reports whether the principal counts towards the last-admin guard.
func (p Principal) IsAdminTier() bool {
	return p.Hierarchy() >= int(TierAdmin)
}
