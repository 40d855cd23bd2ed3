package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/authz"
)

func principal(id int64, hierarchy int) authz.Principal {
	return authz.Principal{ID: id, Role: &authz.Role{ID: int64(hierarchy) + 1, Name: authz.TierOf(hierarchy).Name(), Hierarchy: hierarchy}, Active: true}
}

func TestCanManageStrictDominance(t *testing.T) {
	levels := []int{0, 20, 40, 60, 80, 100}
	for _, a := range levels {
		for _, b := range levels {
			actor, target := principal(1, a), principal(2, b)
			assert.Equal(t, a > b, authz.CanManage(actor, target), "actor=%d target=%d", a, b)
		}
	}
}

func TestCanManagePeersDenyBothWays(t *testing.T) {
	a, b := principal(1, 80), principal(2, 80)
	assert.False(t, authz.CanManage(a, b))
	assert.False(t, authz.CanManage(b, a))

	err := authz.AuthorizeManage(a, b)
	d, ok := authz.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindAuthorization, d.Kind)
}

func TestPrincipalWithoutRoleIsLowestTier(t *testing.T) {
	nobody := authz.Principal{ID: 9}
	assert.Equal(t, 0, nobody.Hierarchy())
	assert.Equal(t, authz.TierMember, nobody.Tier())
	assert.False(t, authz.CanManage(nobody, principal(2, 0)))
	assert.True(t, authz.CanManage(principal(1, 20), nobody))
}

func TestCanAssignRoleNoSelfElevation(t *testing.T) {
	for _, actorLevel := range []int{0, 60, 80, 100} {
		actor := principal(1, actorLevel)
		for h := 0; h <= 100; h += 10 {
			assert.Equal(t, h < actorLevel, authz.CanAssignRole(actor, h), "actor=%d role=%d", actorLevel, h)
		}
	}
}

func TestCatalogTierLock(t *testing.T) {
	assert.False(t, authz.CanMutatePermissionCatalog(principal(1, 80)))
	assert.False(t, authz.CanMutatePermissionCatalog(principal(1, 99)))
	assert.True(t, authz.CanMutatePermissionCatalog(principal(1, 100)))

	d, ok := authz.AsDenial(authz.AuthorizeCatalog(principal(1, 80)))
	require.True(t, ok)
	assert.Equal(t, authz.KindCatalogRestricted, d.Kind)
	assert.NoError(t, authz.AuthorizeCatalog(principal(1, 100)))
}

func TestRoleScenario(t *testing.T) {
	roleA := authz.Role{ID: 1, Name: "super_admin", Hierarchy: 100}
	roleB := authz.Role{ID: 2, Name: "admin", Hierarchy: 80}
	withA := authz.Principal{ID: 1, Role: &roleA, Active: true}
	withB := authz.Principal{ID: 2, Role: &roleB, Active: true}

	assert.False(t, authz.CanAssignRole(withB, roleA.Hierarchy))
	assert.True(t, authz.CanAssignRole(withA, roleB.Hierarchy))

	err := authz.AuthorizeRoleChange(withA, roleB, 100)
	d, ok := authz.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, "hierarchy", d.Field)
	assert.NoError(t, authz.AuthorizeRoleChange(withA, roleB, 90))
}

func TestAuthorizeRoleChangeChecksCurrentHierarchy(t *testing.T) {
	admin := principal(1, 80)
	err := authz.AuthorizeRoleChange(admin, authz.Role{ID: 5, Hierarchy: 80}, 10)
	d, ok := authz.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, authz.ReasonCannotEditRole, d.Reason)
}

func TestCheckLastAdmin(t *testing.T) {
	pools := authz.AdminPools{authz.TierAdmin: 1, authz.TierSuperAdmin: 1}
	lastAdmin := principal(2, 80)

	err := authz.CheckLastAdmin(pools, []authz.Principal{lastAdmin}, "role_id")
	d, ok := authz.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindBusinessRule, d.Kind)

	pools[authz.TierAdmin] = 2
	assert.NoError(t, authz.CheckLastAdmin(pools, []authz.Principal{lastAdmin}, "role_id"))

	inactive := lastAdmin
	inactive.Active = false
	pools[authz.TierAdmin] = 0
	assert.NoError(t, authz.CheckLastAdmin(pools, []authz.Principal{inactive}, "role_id"))
}

func TestLosesStanding(t *testing.T) {
	assert.True(t, authz.LosesStanding(principal(1, 80), 60))
	assert.False(t, authz.LosesStanding(principal(1, 80), 85))
	assert.False(t, authz.LosesStanding(principal(1, 60), 0))
}

func TestTiers(t *testing.T) {
	tier, ok := authz.ParseTier("Super_Admin")
	require.True(t, ok)
	assert.Equal(t, authz.TierSuperAdmin, tier)

	tier, ok = authz.ParseTier("user")
	require.True(t, ok)
	assert.Equal(t, authz.TierMember, tier)

	_, ok = authz.ParseTier("owner")
	assert.False(t, ok)

	assert.Equal(t, authz.TierModerator, authz.TierOf(79))
	assert.Equal(t, authz.TierAdmin, authz.TierOf(80))
	assert.True(t, authz.ValidHierarchy(0))
	assert.True(t, authz.ValidHierarchy(100))
	assert.False(t, authz.ValidHierarchy(101))
	assert.False(t, authz.ValidHierarchy(-1))
}

func TestTargetRefs(t *testing.T) {
	refs := []authz.TargetRef{authz.UserRef{ID: 7}, authz.RoleRef{ID: 8}, authz.PermissionRef{ID: 9}, authz.NoTarget{}}
	wantTypes := []string{"user", "role", "permission", ""}
	wantIDs := []string{"7", "8", "9", ""}
	for i, ref := range refs {
		assert.Equal(t, wantTypes[i], ref.TargetType())
		assert.Equal(t, wantIDs[i], ref.TargetID())
	}
}

func TestFactsCarryDenialReason(t *testing.T) {
	fact := authz.Denied("user_role_change", 3, authz.UserRef{ID: 4}, authz.AuthorizeManage(principal(3, 60), principal(4, 80)))
	assert.Equal(t, authz.OutcomeDenied, fact.Outcome)
	assert.Equal(t, authz.ReasonCannotManage, fact.Reason)
	assert.False(t, fact.At.IsZero())

	approved := authz.Approved("role_update", 1, authz.RoleRef{ID: 2}, map[string]any{"hierarchy": 40}, map[string]any{"hierarchy": 60})
	assert.Equal(t, authz.OutcomeApproved, approved.Outcome)
	assert.Equal(t, 60, approved.New["hierarchy"])
}

func TestParseTarget(t *testing.T) {
	ref, err := authz.ParseTarget("role", "12")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleRef{ID: 12}, ref)

	ref, err = authz.ParseTarget("", "")
	require.NoError(t, err)
	assert.Equal(t, authz.NoTarget{}, ref)

	_, err = authz.ParseTarget("movie", "1")
	assert.Error(t, err)
	_, err = authz.ParseTarget("user", "x")
	assert.Error(t, err)
}
