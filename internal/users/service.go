package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Audit action names.
const (
	ActionUserRoleChange  = "user_role_change"
	ActionUserPermissions = "user_permissions_sync"
	bulkActionPrefix      = "bulk_"
)

// ThrottleObserver is notified when the destructive throttle rejects a request.
type ThrottleObserver interface {
	ObserveThrottled(class string)
}

// Service handles user business logic.
type Service struct {
	repo     Repository
	guard    *authz.Guard
	audit    shared.AuditEmitter
	metrics  ThrottleObserver
	validate *validator.Validate
}

// NewService builds a Service. guard may carry a nil throttle.
func NewService(repo Repository, guard *authz.Guard, audit shared.AuditEmitter, metrics ThrottleObserver) *Service {
	if audit == nil {
		audit = shared.NopEmitter{}
	}
	if guard == nil {
		guard = authz.NewGuard(nil)
	}
	return &Service{repo: repo, guard: guard, audit: audit, metrics: metrics, validate: httpx.NewValidator()}
}

// List returns a page of non-deleted users.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]User, shared.Pagination, error) {
	page := shared.NewPagination(filters.Page, filters.PerPage, 0)
	filters.Page, filters.PerPage = page.Page, page.PerPage
	list, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if list == nil {
		list = []User{}
	}
	return list, page.WithTotal(total), nil
}

// Get returns a user with its direct permission overrides.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, mapError(err)
	}
	perms, err := s.repo.DirectPermissions(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.Permissions = perms
	return u, nil
}

// UpdateRole assigns a role to a single user. The actor must outrank both the
// user and the role, and demoting the last member of an admin tier is refused.
func (s *Service) UpdateRole(ctx context.Context, actor authz.Principal, userID int64, in RoleInput) (User, error) {
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	var before User
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := lockActor(ctx, repo, actor.ID)
		if err != nil {
			return err
		}
		found, err := repo.FindUsers(ctx, []int64{userID}, true)
		if err != nil {
			return err
		}
		target, ok := found[userID]
		if !ok {
			return ErrNotFound
		}
		before = target
		if err := authz.AuthorizeManage(fresh, target.Principal()); err != nil {
			return err
		}
		role, err := repo.FindRole(ctx, in.RoleID)
		if err != nil {
			return err
		}
		if role == nil {
			return authz.Deny(authz.KindValidation, "role_id", "the selected role does not exist")
		}
		if err := authz.AuthorizeAssign(fresh, *role); err != nil {
			return err
		}
		if authz.LosesStanding(target.Principal(), role.Hierarchy) {
			hierarchies, err := repo.ActiveAdminHierarchies(ctx, true)
			if err != nil {
				return err
			}
			if err := authz.CheckLastAdmin(authz.CountPools(hierarchies), []authz.Principal{target.Principal()}, "role_id"); err != nil {
				return err
			}
		}
		return repo.SetRole(ctx, []int64{userID}, role.ID)
	})
	if err != nil {
		return User{}, s.fail(ctx, ActionUserRoleChange, actor.ID, authz.UserRef{ID: userID}, err)
	}
	after, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	s.audit.Emit(ctx, authz.Approved(ActionUserRoleChange, actor.ID, authz.UserRef{ID: userID}, before.values(), after.values()))
	return after, nil
}

// SetPermissions replaces the direct permission overrides of a user the actor
// outranks.
func (s *Service) SetPermissions(ctx context.Context, actor authz.Principal, userID int64, in PermissionsInput) (User, error) {
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	var before, after []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := lockActor(ctx, repo, actor.ID)
		if err != nil {
			return err
		}
		found, err := repo.FindUsers(ctx, []int64{userID}, true)
		if err != nil {
			return err
		}
		target, ok := found[userID]
		if !ok {
			return ErrNotFound
		}
		if err := authz.AuthorizeManage(fresh, target.Principal()); err != nil {
			return err
		}
		if err := checkPermissionIDs(ctx, repo, in.PermissionIDs); err != nil {
			return err
		}
		if before, err = repo.DirectPermissions(ctx, userID); err != nil {
			return err
		}
		if err := repo.ReplacePermissions(ctx, userID, in.PermissionIDs); err != nil {
			return err
		}
		after, err = repo.DirectPermissions(ctx, userID)
		return err
	})
	if err != nil {
		return User{}, s.fail(ctx, ActionUserPermissions, actor.ID, authz.UserRef{ID: userID}, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionUserPermissions, actor.ID, authz.UserRef{ID: userID},
		map[string]any{"permissions": before}, map[string]any{"permissions": after}))
	return s.Get(ctx, userID)
}

// Bulk applies one action to many users. The request is normalized, validated
// against a snapshot and throttled, then re-validated against locked rows
// inside the write transaction. Nothing is applied unless every target passes.
func (s *Service) Bulk(ctx context.Context, actor authz.Principal, payload BulkPayload) (BulkResult, error) {
	if err := s.validate.Struct(payload); err != nil {
		return BulkResult{}, err
	}
	in := authz.NormalizeBulk(actor, authz.BulkRequest{
		Action:  payload.Action,
		UserIDs: payload.UserIDs,
		RoleID:  payload.RoleID,
		Reason:  payload.Reason,
	})
	auditAction := bulkActionPrefix + string(in.Action)

	snap, err := loadSnapshot(ctx, s.repo, in, false)
	if err != nil {
		return BulkResult{}, err
	}
	if _, err := s.guard.ValidateBulkAction(ctx, actor, in, snap); err != nil {
		return BulkResult{}, s.fail(ctx, auditAction, actor.ID, authz.NoTarget{}, err)
	}

	var (
		plan   authz.BulkPlan
		before map[int64]User
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := lockActor(ctx, repo, actor.ID)
		if err != nil {
			return err
		}
		snap, err := loadSnapshot(ctx, repo, in, true)
		if err != nil {
			return err
		}
		plan, err = authz.ValidateBulk(fresh, in, snap)
		if err != nil {
			return err
		}
		before, err = repo.FindUsers(ctx, in.TargetIDs, false)
		if err != nil {
			return err
		}
		return applyBulk(ctx, repo, plan)
	})
	if err != nil {
		return BulkResult{}, s.fail(ctx, auditAction, actor.ID, authz.NoTarget{}, err)
	}

	ids := make([]int64, 0, len(plan.Targets))
	for _, t := range plan.Targets {
		ids = append(ids, t.ID)
	}
	after, err := s.repo.FindUsers(ctx, ids, false)
	if err != nil {
		return BulkResult{}, err
	}
	for _, id := range ids {
		newValues := map[string]any{"status": string(StatusDeleted)}
		if u, ok := after[id]; ok {
			newValues = u.values()
		}
		if plan.Reason != "" {
			newValues["reason"] = plan.Reason
		}
		s.audit.Emit(ctx, authz.Approved(auditAction, actor.ID, authz.UserRef{ID: id}, before[id].values(), newValues))
	}
	return BulkResult{Action: string(plan.Action), Affected: len(ids), UserIDs: ids, SelfExcluded: plan.SelfExcluded}, nil
}

func loadSnapshot(ctx context.Context, repo Repository, in authz.BulkInput, lock bool) (authz.BulkSnapshot, error) {
	snap := authz.BulkSnapshot{Targets: map[int64]authz.Principal{}}
	if len(in.TargetIDs) > 0 {
		found, err := repo.FindUsers(ctx, in.TargetIDs, lock)
		if err != nil {
			return snap, err
		}
		for id, u := range found {
			snap.Targets[id] = u.Principal()
		}
	}
	if in.Action == authz.ActionChangeRole && in.RoleID > 0 {
		role, err := repo.FindRole(ctx, in.RoleID)
		if err != nil {
			return snap, err
		}
		snap.NewRole = role
	}
	hierarchies, err := repo.ActiveAdminHierarchies(ctx, lock)
	if err != nil {
		return snap, err
	}
	snap.Pools = authz.CountPools(hierarchies)
	return snap, nil
}

func applyBulk(ctx context.Context, repo Repository, plan authz.BulkPlan) error {
	ids := make([]int64, 0, len(plan.Targets))
	for _, t := range plan.Targets {
		ids = append(ids, t.ID)
	}
	switch plan.Action {
	case authz.ActionDelete:
		return repo.SetStatus(ctx, ids, StatusDeleted)
	case authz.ActionBan:
		return repo.SetStatus(ctx, ids, StatusBanned)
	case authz.ActionSuspend:
		return repo.SetStatus(ctx, ids, StatusSuspended, StatusActive)
	case authz.ActionUnban:
		return repo.SetStatus(ctx, ids, StatusActive, StatusBanned)
	case authz.ActionActivate:
		return repo.SetStatus(ctx, ids, StatusActive, StatusSuspended, StatusBanned)
	case authz.ActionChangeRole:
		return repo.SetRole(ctx, ids, plan.NewRole.ID)
	default:
		return fmt.Errorf("users: unsupported bulk action %q", plan.Action)
	}
}

func lockActor(ctx context.Context, repo Repository, id int64) (authz.Principal, error) {
	found, err := repo.FindUsers(ctx, []int64{id}, true)
	if err != nil {
		return authz.Principal{}, err
	}
	u, ok := found[id]
	if !ok || u.Status != StatusActive {
		return authz.Principal{}, httpx.ErrUnauthorized
	}
	return u.Principal(), nil
}

func checkPermissionIDs(ctx context.Context, repo Repository, ids []int64) error {
	missing, err := repo.MissingPermissions(ctx, ids)
	if err != nil || len(missing) == 0 {
		return err
	}
	unknown := make(map[int64]struct{}, len(missing))
	for _, id := range missing {
		unknown[id] = struct{}{}
	}
	v := &authz.Violations{}
	for i, id := range ids {
		if _, ok := unknown[id]; ok {
			v.Add(authz.Deny(authz.KindValidation, fmt.Sprintf("permission_ids.%d", i), "the selected permission does not exist"))
		}
	}
	return v.Err()
}

func (s *Service) fail(ctx context.Context, action string, actorID int64, target authz.TargetRef, err error) error {
	err = mapError(err)
	if !authz.IsDenied(err) {
		return err
	}
	if v, ok := authz.AsViolations(err); ok && v.Kind() == authz.KindRateLimited && s.metrics != nil {
		s.metrics.ObserveThrottled(authz.DestructiveClass)
	}
	s.audit.Emit(ctx, authz.Denied(action, actorID, target, err))
	return err
}

func mapError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httpx.ErrNotFound
	}
	return err
}
