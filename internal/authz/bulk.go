package authz

import (
	"context"
	"fmt"
	"strings"
)

// BulkAction is an action applied to many users at once.
type BulkAction string

// Bulk actions.
const (
	ActionBan        BulkAction = "ban"
	ActionUnban      BulkAction = "unban"
	ActionDelete     BulkAction = "delete"
	ActionChangeRole BulkAction = "change_role"
	ActionActivate   BulkAction = "activate"
	ActionSuspend    BulkAction = "suspend"
)

// DestructiveClass is the throttle class shared by delete and ban.
const DestructiveClass = "destructive"

// BulkActions lists the supported actions.
func BulkActions() []BulkAction {
	return []BulkAction{ActionBan, ActionUnban, ActionDelete, ActionChangeRole, ActionActivate, ActionSuspend}
}

// Valid reports whether a is a supported action.
func (a BulkAction) Valid() bool {
	for _, known := range BulkActions() {
		if a == known {
			return true
		}
	}
	return false
}

// Destructive reports whether a is throttled.
func (a BulkAction) Destructive() bool {
	return a == ActionDelete || a == ActionBan
}

// deactivates reports whether a takes the target out of the active pool.
func (a BulkAction) deactivates() bool {
	return a == ActionDelete || a == ActionBan || a == ActionSuspend
}

// BulkRequest is the raw bulk payload.
type BulkRequest struct {
	Action  string
	UserIDs []int64
	RoleID  *int64
	Reason  string
}

// BulkInput is a normalized bulk request. Positions holds, for each entry of
// TargetIDs, its index in the submitted user_ids array.
type BulkInput struct {
	Action       BulkAction
	TargetIDs    []int64
	Positions    []int
	RoleID       int64
	Reason       string
	SelfExcluded bool
}

// NormalizeBulk canonicalises the action, drops duplicate and non-positive ids and
// silently removes the actor from the target set.
func NormalizeBulk(actor Principal, req BulkRequest) BulkInput {
	in := BulkInput{
		Action: BulkAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Reason: strings.TrimSpace(req.Reason),
	}
	if req.RoleID != nil {
		in.RoleID = *req.RoleID
	}
	seen := make(map[int64]struct{}, len(req.UserIDs))
	in.TargetIDs = make([]int64, 0, len(req.UserIDs))
	in.Positions = make([]int, 0, len(req.UserIDs))
	for pos, id := range req.UserIDs {
		if id <= 0 {
			continue
		}
		if id == actor.ID {
			in.SelfExcluded = true
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		in.TargetIDs = append(in.TargetIDs, id)
		in.Positions = append(in.Positions, pos)
	}
	return in
}

// field names the user_ids entry that produced TargetIDs[i].
func (in BulkInput) field(i int) string {
	if i < len(in.Positions) {
		return fmt.Sprintf("user_ids.%d", in.Positions[i])
	}
	return fmt.Sprintf("user_ids.%d", i)
}

// BulkSnapshot is the state a bulk decision is made against.
type BulkSnapshot struct {
	// Targets holds the non-deleted users found for the requested ids.
	Targets map[int64]Principal
	// NewRole is the resolved role for change_role, nil when unknown.
	NewRole *Role
	Pools   AdminPools
}

// BulkPlan is an approved bulk action.
type BulkPlan struct {
	Action       BulkAction
	Targets      []Principal
	NewRole      *Role
	Reason       string
	SelfExcluded bool
}

// CountPools buckets active admin-class hierarchies into AdminPools.
func CountPools(activeHierarchies []int) AdminPools {
	pools := make(AdminPools)
	for _, h := range activeHierarchies {
		if h >= int(TierAdmin) {
			pools[TierOf(h)]++
		}
	}
	return pools
}

// ValidateBulk checks a normalized request against snap without side effects. The
// whole request is rejected when any constraint fails, with field-level errors.
func ValidateBulk(actor Principal, in BulkInput, snap BulkSnapshot) (BulkPlan, error) {
	v := Violations{FieldLevel: true}
	if !in.Action.Valid() {
		v.Add(Deny(KindValidation, "action", "the selected action is invalid"))
		return BulkPlan{}, v.Err()
	}
	if len(in.TargetIDs) == 0 {
		v.Add(Deny(KindValidation, "user_ids", "select at least one user other than yourself"))
		return BulkPlan{}, v.Err()
	}

	targets := make([]Principal, 0, len(in.TargetIDs))
	for i, id := range in.TargetIDs {
		field := in.field(i)
		target, ok := snap.Targets[id]
		if !ok {
			v.Add(Deny(KindValidation, field, "the selected user does not exist"))
			continue
		}
		if !CanManage(actor, target) {
			v.Add(Deny(KindAuthorization, field, ReasonCannotManage))
			continue
		}
		targets = append(targets, target)
	}

	var newRole *Role
	if in.Action == ActionChangeRole {
		switch {
		case in.RoleID <= 0:
			v.Add(Deny(KindValidation, "role_id", "a role is required for change_role"))
		case snap.NewRole == nil || snap.NewRole.ID != in.RoleID:
			v.Add(Deny(KindValidation, "role_id", "the selected role does not exist"))
		case !CanAssignRole(actor, snap.NewRole.Hierarchy):
			v.Add(Deny(KindAuthorization, "role_id", ReasonCannotAssign))
		default:
			newRole = snap.NewRole
		}
	}
	if !v.Empty() {
		return BulkPlan{}, v.Err()
	}

	if err := CheckLastAdmin(snap.Pools, affectedByBulk(in.Action, targets, newRole), "user_ids"); err != nil {
		v.Add(err.(*Denial))
		return BulkPlan{}, v.Err()
	}

	return BulkPlan{
		Action:       in.Action,
		Targets:      targets,
		NewRole:      newRole,
		Reason:       in.Reason,
		SelfExcluded: in.SelfExcluded,
	}, nil
}

func affectedByBulk(action BulkAction, targets []Principal, newRole *Role) []Principal {
	var affected []Principal
	for _, t := range targets {
		switch {
		case action.deactivates():
			affected = append(affected, t)
		case action == ActionChangeRole && newRole != nil && LosesStanding(t, newRole.Hierarchy):
			affected = append(affected, t)
		}
	}
	return affected
}

// Guard composes the pure bulk checks with the destructive-action throttle.
type Guard struct {
	throttle *Throttle
}

// NewGuard builds a Guard. A nil throttle disables rate limiting.
func NewGuard(throttle *Throttle) *Guard {
	return &Guard{throttle: throttle}
}

// ValidateBulkAction validates in against snap and, for destructive actions,
// consumes one unit of the actor's throttle quota. Quota is only consumed by
// requests that passed every other check.
func (g *Guard) ValidateBulkAction(ctx context.Context, actor Principal, in BulkInput, snap BulkSnapshot) (BulkPlan, error) {
	plan, err := ValidateBulk(actor, in, snap)
	if err != nil {
		return BulkPlan{}, err
	}
	if g != nil && g.throttle != nil && plan.Action.Destructive() {
		if err := g.throttle.Allow(ctx, actor.ID, DestructiveClass); err != nil {
			if d, ok := AsDenial(err); ok {
				return BulkPlan{}, &Violations{Items: []*Denial{d}}
			}
			return BulkPlan{}, err
		}
	}
	return plan, nil
}
