package authz

import (
	"fmt"
	"strconv"
	"time"
)

// TargetRef identifies what an administrative action touched. The set of variants
// is closed: UserRef, RoleRef, PermissionRef and NoTarget.
type TargetRef interface {
	TargetType() string
	TargetID() string
	isTargetRef()
}

// UserRef targets a user.
type UserRef struct{ ID int64 }

// RoleRef targets a role.
type RoleRef struct{ ID int64 }

// PermissionRef targets a permission definition.
type PermissionRef struct{ ID int64 }

// NoTarget is used for actions without a single subject, such as bulk requests.
type NoTarget struct{}

func (UserRef) TargetType() string       { return "user" }
func (r UserRef) TargetID() string       { return strconv.FormatInt(r.ID, 10) }
func (UserRef) isTargetRef()             {}
func (RoleRef) TargetType() string       { return "role" }
func (r RoleRef) TargetID() string       { return strconv.FormatInt(r.ID, 10) }
func (RoleRef) isTargetRef()             {}
func (PermissionRef) TargetType() string { return "permission" }
func (r PermissionRef) TargetID() string { return strconv.FormatInt(r.ID, 10) }
func (PermissionRef) isTargetRef()       {}
func (NoTarget) TargetType() string      { return "" }
func (NoTarget) TargetID() string        { return "" }
func (NoTarget) isTargetRef()            {}

// ParseTarget rebuilds a reference from its type and id, as stored in audit rows.
func ParseTarget(targetType, id string) (TargetRef, error) {
	if targetType == "" {
		return NoTarget{}, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("authz: target id %q: %w", id, err)
	}
	switch targetType {
	case "user":
		return UserRef{ID: n}, nil
	case "role":
		return RoleRef{ID: n}, nil
	case "permission":
		return PermissionRef{ID: n}, nil
	}
	return nil, fmt.Errorf("authz: unknown target type %q", targetType)
}

// Outcome of a guarded action.
type Outcome string

// Outcomes.
const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// Fact describes a decision for the audit collaborator.
type Fact struct {
	Action  string
	ActorID int64
	Target  TargetRef
	Old     map[string]any
	New     map[string]any
	Outcome Outcome
	Reason  string
	At      time.Time
}

// Approved builds an approved fact.
func Approved(action string, actorID int64, target TargetRef, before, after map[string]any) Fact {
	return Fact{Action: action, ActorID: actorID, Target: target, Old: before, New: after, Outcome: OutcomeApproved, At: time.Now().UTC()}
}

// Denied builds a denied fact from the refusal err.
func Denied(action string, actorID int64, target TargetRef, err error) Fact {
	reason := err.Error()
	if v, ok := AsViolations(err); ok && len(v.Items) == 1 {
		reason = v.Items[0].Reason
	} else if d, ok := AsDenial(err); ok {
		reason = d.Reason
	}
	return Fact{Action: action, ActorID: actorID, Target: target, Outcome: OutcomeDenied, Reason: reason, At: time.Now().UTC()}
}
