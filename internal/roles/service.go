package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Audit action names.
const (
	ActionRoleCreate      = "role_create"
	ActionRoleUpdate      = "role_update"
	ActionRoleDelete      = "role_delete"
	ActionRolePermissions = "role_permissions_sync"
)

// Service handles role business logic.
type Service struct {
	repo     Repository
	audit    shared.AuditEmitter
	validate *validator.Validate
}

// NewService builds a Service.
func NewService(repo Repository, audit shared.AuditEmitter) *Service {
	if audit == nil {
		audit = shared.NopEmitter{}
	}
	return &Service{repo: repo, audit: audit, validate: httpx.NewValidator()}
}

// List returns all roles with their user counts.
func (s *Service) List(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	roles, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	for i := range roles {
		roles[i].Tier = authz.TierOf(roles[i].Hierarchy).Name()
	}
	return roles, nil
}

// Get returns one role with its granted permission names.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, mapError(err)
	}
	perms, err := s.repo.Permissions(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	role.Tier = authz.TierOf(role.Hierarchy).Name()
	return role, nil
}

// Create defines a new role. The actor must outrank the hierarchy being defined.
func (s *Service) Create(ctx context.Context, actor authz.Principal, in RoleInput) (Role, error) {
	in = normalizeInput(in)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, err
	}
	if err := authorizeDefine(actor, *in.Hierarchy); err != nil {
		s.audit.Emit(ctx, authz.Denied(ActionRoleCreate, actor.ID, authz.NoTarget{}, err))
		return Role{}, err
	}
	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := repo.LockActor(ctx, actor.ID)
		if err != nil {
			return err
		}
		if err := authorizeDefine(fresh, *in.Hierarchy); err != nil {
			return err
		}
		created, err = repo.Create(ctx, in.Name, in.Description, *in.Hierarchy)
		return err
	})
	if err != nil {
		return Role{}, s.fail(ctx, ActionRoleCreate, actor.ID, authz.NoTarget{}, err)
	}
	created.Tier = authz.TierOf(created.Hierarchy).Name()
	s.audit.Emit(ctx, authz.Approved(ActionRoleCreate, actor.ID, authz.RoleRef{ID: created.ID}, nil, created.values()))
	return created, nil
}

// Update changes a role definition. The actor must outrank both the current and
// the proposed hierarchy, and an update that moves a role out of an admin tier
// may not leave that tier empty.
func (s *Service) Update(ctx context.Context, actor authz.Principal, id int64, in RoleInput) (Role, error) {
	in = normalizeInput(in)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, err
	}
	var before, after Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := repo.LockActor(ctx, actor.ID)
		if err != nil {
			return err
		}
		before, err = repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.AuthorizeRoleChange(fresh, before.authz(), *in.Hierarchy); err != nil {
			return err
		}
		if authz.TierOf(before.Hierarchy) != authz.TierOf(*in.Hierarchy) && before.Hierarchy >= int(authz.TierAdmin) {
			if err := checkMembersKeepAdmin(ctx, repo, id, *in.Hierarchy); err != nil {
				return err
			}
		}
		after, err = repo.Update(ctx, id, in.Name, in.Description, *in.Hierarchy)
		return err
	})
	if err != nil {
		return Role{}, s.fail(ctx, ActionRoleUpdate, actor.ID, authz.RoleRef{ID: id}, err)
	}
	after.Tier = authz.TierOf(after.Hierarchy).Name()
	s.audit.Emit(ctx, authz.Approved(ActionRoleUpdate, actor.ID, authz.RoleRef{ID: id}, before.values(), after.values()))
	return after, nil
}

// Delete removes a role that no user references.
func (s *Service) Delete(ctx context.Context, actor authz.Principal, id int64) error {
	var before Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := repo.LockActor(ctx, actor.ID)
		if err != nil {
			return err
		}
		before, err = repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.AuthorizeRoleChange(fresh, before.authz(), before.Hierarchy); err != nil {
			return err
		}
		n, err := repo.CountUsers(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return authz.Deny(authz.KindBusinessRule, "role", authz.ReasonRoleInUse)
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return s.fail(ctx, ActionRoleDelete, actor.ID, authz.RoleRef{ID: id}, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionRoleDelete, actor.ID, authz.RoleRef{ID: id}, before.values(), nil))
	return nil
}

// SetPermissions replaces the permission grants of a role the actor outranks.
func (s *Service) SetPermissions(ctx context.Context, actor authz.Principal, id int64, in PermissionsInput) (Role, error) {
	if err := s.validate.Struct(in); err != nil {
		return Role{}, err
	}
	var before, after []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		fresh, err := repo.LockActor(ctx, actor.ID)
		if err != nil {
			return err
		}
		role, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.AuthorizeRoleChange(fresh, role.authz(), role.Hierarchy); err != nil {
			return err
		}
		if err := checkPermissionIDs(ctx, repo, in.PermissionIDs); err != nil {
			return err
		}
		if before, err = repo.Permissions(ctx, id); err != nil {
			return err
		}
		if err := repo.ReplacePermissions(ctx, id, in.PermissionIDs); err != nil {
			return err
		}
		after, err = repo.Permissions(ctx, id)
		return err
	})
	if err != nil {
		return Role{}, s.fail(ctx, ActionRolePermissions, actor.ID, authz.RoleRef{ID: id}, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionRolePermissions, actor.ID, authz.RoleRef{ID: id},
		map[string]any{"permissions": before}, map[string]any{"permissions": after}))
	return s.Get(ctx, id)
}

func (s *Service) fail(ctx context.Context, action string, actorID int64, target authz.TargetRef, err error) error {
	err = mapError(err)
	if authz.IsDenied(err) {
		s.audit.Emit(ctx, authz.Denied(action, actorID, target, err))
	}
	return err
}

func authorizeDefine(actor authz.Principal, hierarchy int) error {
	if authz.CanAssignRole(actor, hierarchy) {
		return nil
	}
	return authz.Deny(authz.KindAuthorization, "hierarchy", authz.ReasonCannotAssign)
}

func checkMembersKeepAdmin(ctx context.Context, repo Repository, id int64, proposed int) error {
	members, err := repo.LockMembers(ctx, id)
	if err != nil {
		return err
	}
	hierarchies, err := repo.ActiveAdminHierarchies(ctx)
	if err != nil {
		return err
	}
	var affected []authz.Principal
	for _, m := range members {
		if authz.LosesStanding(m, proposed) {
			affected = append(affected, m)
		}
	}
	return authz.CheckLastAdmin(authz.CountPools(hierarchies), affected, "hierarchy")
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

func normalizeInput(in RoleInput) RoleInput {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.Description = strings.TrimSpace(in.Description)
	return in
}

func mapError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httpx.ErrNotFound
	}
	if _, ok := db.IsUniqueViolation(err); ok {
		v := &authz.Violations{}
		v.Add(authz.Deny(authz.KindValidation, "name", "The name has already been taken."))
		return v
	}
	return err
}
