package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/ratelimit"
)

func snapshotOf(principals ...authz.Principal) authz.BulkSnapshot {
	targets := make(map[int64]authz.Principal, len(principals))
	var hierarchies []int
	for _, p := range principals {
		targets[p.ID] = p
		if p.Active {
			hierarchies = append(hierarchies, p.Hierarchy())
		}
	}
	return authz.BulkSnapshot{Targets: targets, Pools: authz.CountPools(hierarchies)}
}

func TestNormalizeBulk(t *testing.T) {
	actor := principal(1, 100)
	roleID := int64(3)
	in := authz.NormalizeBulk(actor, authz.BulkRequest{
		Action:  "  Change_Role ",
		UserIDs: []int64{5, 1, 5, 0, -2, 6},
		RoleID:  &roleID,
		Reason:  " cleanup ",
	})

	assert.Equal(t, authz.ActionChangeRole, in.Action)
	assert.Equal(t, []int64{5, 6}, in.TargetIDs)
	assert.EqualValues(t, 3, in.RoleID)
	assert.Equal(t, "cleanup", in.Reason)
	assert.True(t, in.SelfExcluded)
}

func TestValidateBulkLastAdmin(t *testing.T) {
	actor := principal(1, 100)

	twoAdmins := snapshotOf(actor, principal(2, 80), principal(3, 80))
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "delete", UserIDs: []int64{2, 3}})
	_, err := authz.ValidateBulk(actor, in, twoAdmins)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindBusinessRule, v.Kind())
	assert.Contains(t, v.Fields()["user_ids"], authz.ReasonLastAdmin)

	threeAdmins := snapshotOf(actor, principal(2, 80), principal(3, 80), principal(4, 80))
	plan, err := authz.ValidateBulk(actor, in, threeAdmins)
	require.NoError(t, err)
	assert.Len(t, plan.Targets, 2)
}

func TestValidateBulkSelfExclusion(t *testing.T) {
	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0), principal(3, 60))

	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "ban", UserIDs: []int64{1, 2, 3}})
	plan, err := authz.ValidateBulk(actor, in, snap)
	require.NoError(t, err)
	assert.True(t, plan.SelfExcluded)
	require.Len(t, plan.Targets, 2)
	for _, target := range plan.Targets {
		assert.NotEqual(t, actor.ID, target.ID)
	}
}

func TestValidateBulkOnlySelfIsRejected(t *testing.T) {
	actor := principal(1, 80)
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "ban", UserIDs: []int64{1}})
	_, err := authz.ValidateBulk(actor, in, snapshotOf(actor))
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindValidation, v.Kind())
	assert.Contains(t, v.Fields(), "user_ids")
}

func TestValidateBulkIsAllOrNothing(t *testing.T) {
	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0), principal(3, 80))

	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "suspend", UserIDs: []int64{2, 3, 99}})
	_, err := authz.ValidateBulk(actor, in, snap)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	fields := v.Fields()
	assert.Contains(t, fields["user_ids.1"], authz.ReasonCannotManage)
	assert.Contains(t, fields, "user_ids.2")
	assert.NotContains(t, fields, "user_ids.0")
	assert.Equal(t, authz.KindAuthorization, v.Kind())
}

func TestValidateBulkUnknownAction(t *testing.T) {
	actor := principal(1, 100)
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "purge", UserIDs: []int64{2}})
	_, err := authz.ValidateBulk(actor, in, snapshotOf(actor, principal(2, 0)))
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.Contains(t, v.Fields(), "action")
}

func TestValidateBulkChangeRole(t *testing.T) {
	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0), principal(3, 20))

	moderator := &authz.Role{ID: 61, Name: "moderator", Hierarchy: 60}
	snap.NewRole = moderator
	roleID := moderator.ID
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "change_role", UserIDs: []int64{2, 3}, RoleID: &roleID})
	plan, err := authz.ValidateBulk(actor, in, snap)
	require.NoError(t, err)
	assert.Equal(t, moderator, plan.NewRole)

	admin := &authz.Role{ID: 81, Name: "admin", Hierarchy: 80}
	snap.NewRole = admin
	roleID = admin.ID
	in = authz.NormalizeBulk(actor, authz.BulkRequest{Action: "change_role", UserIDs: []int64{2}, RoleID: &roleID})
	_, err = authz.ValidateBulk(actor, in, snap)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.Contains(t, v.Fields()["role_id"], authz.ReasonCannotAssign)

	in = authz.NormalizeBulk(actor, authz.BulkRequest{Action: "change_role", UserIDs: []int64{2}})
	_, err = authz.ValidateBulk(actor, in, snap)
	v, ok = authz.AsViolations(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindValidation, v.Kind())
}

func TestValidateBulkChangeRoleDemotingLastAdmin(t *testing.T) {
	actor := principal(1, 100)
	snap := snapshotOf(actor, principal(2, 80))
	snap.NewRole = &authz.Role{ID: 61, Hierarchy: 60}
	roleID := int64(61)

	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "change_role", UserIDs: []int64{2}, RoleID: &roleID})
	_, err := authz.ValidateBulk(actor, in, snap)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.Equal(t, authz.KindBusinessRule, v.Kind())
}

func TestGuardThrottlesDestructiveActions(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := ratelimit.NewMemory(ratelimit.WithClock(func() time.Time { return now }))
	guard := authz.NewGuard(authz.NewThrottle(store, authz.DefaultDestructiveLimit, authz.DefaultDestructiveWindow))
	ctx := context.Background()

	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0))
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "delete", UserIDs: []int64{2}})

	for i := 0; i < 5; i++ {
		_, err := guard.ValidateBulkAction(ctx, actor, in, snap)
		require.NoError(t, err, "attempt %d", i+1)
		now = now.Add(time.Minute)
	}

	_, err := guard.ValidateBulkAction(ctx, actor, in, snap)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	require.Equal(t, authz.KindRateLimited, v.Kind())
	assert.Equal(t, 10*time.Minute, v.Items[0].RetryAfter)

	ban := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "ban", UserIDs: []int64{2}})
	_, err = guard.ValidateBulkAction(ctx, actor, ban, snap)
	require.Error(t, err, "ban shares the destructive quota")

	activate := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "activate", UserIDs: []int64{2}})
	_, err = guard.ValidateBulkAction(ctx, actor, activate, snap)
	require.NoError(t, err)

	now = time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	_, err = guard.ValidateBulkAction(ctx, actor, in, snap)
	require.NoError(t, err, "window resets 15 minutes after the first counted action")
}

func TestGuardRejectedRequestsDoNotConsumeQuota(t *testing.T) {
	store := ratelimit.NewMemory()
	guard := authz.NewGuard(authz.NewThrottle(store, 1, time.Minute))
	ctx := context.Background()

	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0), principal(3, 80))

	bad := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "delete", UserIDs: []int64{3}})
	for i := 0; i < 3; i++ {
		_, err := guard.ValidateBulkAction(ctx, actor, bad, snap)
		require.Error(t, err)
	}

	good := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "delete", UserIDs: []int64{2}})
	_, err := guard.ValidateBulkAction(ctx, actor, good, snap)
	require.NoError(t, err)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestGuardPropagatesStoreFailure(t *testing.T) {
	guard := authz.NewGuard(authz.NewThrottle(failingStore{}, 5, time.Minute))
	actor := principal(1, 80)
	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "ban", UserIDs: []int64{2}})

	_, err := guard.ValidateBulkAction(context.Background(), actor, in, snapshotOf(actor, principal(2, 0)))
	require.Error(t, err)
	assert.False(t, authz.IsDenied(err))
}

func TestValidateBulkFieldsUseSubmittedPositions(t *testing.T) {
	actor := principal(1, 80)
	snap := snapshotOf(actor, principal(2, 0), principal(3, 80))

	in := authz.NormalizeBulk(actor, authz.BulkRequest{Action: "suspend", UserIDs: []int64{1, 2, 2, 0, 3}})
	assert.Equal(t, []int64{2, 3}, in.TargetIDs)
	assert.Equal(t, []int{1, 4}, in.Positions)

	_, err := authz.ValidateBulk(actor, in, snap)
	v, ok := authz.AsViolations(err)
	require.True(t, ok)
	assert.True(t, v.FieldLevel)
	assert.Equal(t, []string{authz.ReasonCannotManage}, v.Fields()["user_ids.4"])
	assert.NotContains(t, v.Fields(), "user_ids.1")
}
