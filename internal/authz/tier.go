// Package authz decides whether an administrative actor may act on a user, role or
// the permission catalog. Decisions compare role hierarchies with strict dominance.
package authz

import "strings"

// Tier is a canonical hierarchy level. Role.Hierarchy values are plain ints in
// [MinHierarchy, MaxHierarchy]; Tier names the levels the catalog ships with.
type Tier int

// Canonical tiers, lowest to highest.
const (
	TierMember      Tier = 0
	TierContributor Tier = 20
	TierEditor      Tier = 40
	TierModerator   Tier = 60
	TierAdmin       Tier = 80
	TierSuperAdmin  Tier = 100
)

// Hierarchy bounds.
const (
	MinHierarchy = int(TierMember)
	MaxHierarchy = int(TierSuperAdmin)
)

var tierNames = map[Tier]string{
	TierMember:      "member",
	TierContributor: "contributor",
	TierEditor:      "editor",
	TierModerator:   "moderator",
	TierAdmin:       "admin",
	TierSuperAdmin:  "super_admin",
}

// Tiers lists the canonical tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierMember, TierContributor, TierEditor, TierModerator, TierAdmin, TierSuperAdmin}
}

// Name returns the canonical role name of the tier.
func (t Tier) Name() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return ""
}

// Level returns the integer hierarchy of the tier.
func (t Tier) Level() int {
	return int(t)
}

// ParseTier resolves a canonical role name. "user" is accepted as an alias of member.
func ParseTier(name string) (Tier, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "user" {
		return TierMember, true
	}
	for tier, tierName := range tierNames {
		if tierName == name {
			return tier, true
		}
	}
	return TierMember, false
}

// TierOf returns the highest canonical tier not above the given hierarchy.
func TierOf(hierarchy int) Tier {
	tiers := Tiers()
	result := TierMember
	for _, tier := range tiers {
		if hierarchy >= int(tier) {
			result = tier
		}
	}
	return result
}

// ValidHierarchy reports whether h lies within the allowed range.
func ValidHierarchy(h int) bool {
	return h >= MinHierarchy && h <= MaxHierarchy
}
