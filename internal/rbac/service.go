package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Audit action names.
const (
	ActionPermissionCreate = "permission_create"
	ActionPermissionUpdate = "permission_update"
	ActionPermissionDelete = "permission_delete"
)

const reasonNameTaken = "The name has already been taken."

// Store is the persistence contract used by Service. Writes run through
// WithTx so the actor and the touched row are locked while the catalog
// lock is re-checked.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	LockActor(ctx context.Context, userID int64) (authz.Principal, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	LockPermission(ctx context.Context, id int64) (Permission, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Service orchestrates permission catalog operations.
type Service struct {
	store    Store
	audit    shared.AuditEmitter
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(store Store, audit shared.AuditEmitter) *Service {
	if audit == nil {
		audit = shared.NopEmitter{}
	}
	return &Service{store: store, audit: audit, validate: httpx.NewValidator()}
}

// ListPermissions returns the catalog ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// EffectivePermissions returns the permission names held by a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.store.EffectivePermissions(ctx, userID)
}

// CreatePermission adds a permission definition. Only the top tier may do so.
func (s *Service) CreatePermission(ctx context.Context, actor authz.Principal, in PermissionInput) (Permission, error) {
	if err := authz.AuthorizeCatalog(actor); err != nil {
		return Permission{}, s.fail(ctx, ActionPermissionCreate, actor.ID, authz.NoTarget{}, err)
	}
	in = normalizeInput(in)
	if err := s.validate.Struct(in); err != nil {
		return Permission{}, err
	}
	var perm Permission
	err := s.store.WithTx(ctx, func(ctx context.Context, store Store) error {
		if err := reauthorize(ctx, store, actor.ID); err != nil {
			return err
		}
		var err error
		perm, err = store.CreatePermission(ctx, in.Name, in.Description)
		return err
	})
	if err != nil {
		return Permission{}, s.fail(ctx, ActionPermissionCreate, actor.ID, authz.NoTarget{}, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionPermissionCreate, actor.ID, authz.PermissionRef{ID: perm.ID}, nil, perm.values()))
	return perm, nil
}

// UpdatePermission renames or redescribes a permission definition.
func (s *Service) UpdatePermission(ctx context.Context, actor authz.Principal, id int64, in PermissionInput) (Permission, error) {
	target := authz.PermissionRef{ID: id}
	if err := authz.AuthorizeCatalog(actor); err != nil {
		return Permission{}, s.fail(ctx, ActionPermissionUpdate, actor.ID, target, err)
	}
	in = normalizeInput(in)
	if err := s.validate.Struct(in); err != nil {
		return Permission{}, err
	}
	var before, after Permission
	err := s.store.WithTx(ctx, func(ctx context.Context, store Store) error {
		if err := reauthorize(ctx, store, actor.ID); err != nil {
			return err
		}
		var err error
		if before, err = store.LockPermission(ctx, id); err != nil {
			return err
		}
		after, err = store.UpdatePermission(ctx, id, in.Name, in.Description)
		return err
	})
	if err != nil {
		return Permission{}, s.fail(ctx, ActionPermissionUpdate, actor.ID, target, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionPermissionUpdate, actor.ID, target, before.values(), after.values()))
	return after, nil
}

// DeletePermission removes a permission definition along with its grants.
func (s *Service) DeletePermission(ctx context.Context, actor authz.Principal, id int64) error {
	target := authz.PermissionRef{ID: id}
	if err := authz.AuthorizeCatalog(actor); err != nil {
		return s.fail(ctx, ActionPermissionDelete, actor.ID, target, err)
	}
	var before Permission
	err := s.store.WithTx(ctx, func(ctx context.Context, store Store) error {
		if err := reauthorize(ctx, store, actor.ID); err != nil {
			return err
		}
		var err error
		if before, err = store.LockPermission(ctx, id); err != nil {
			return err
		}
		return store.DeletePermission(ctx, id)
	})
	if err != nil {
		return s.fail(ctx, ActionPermissionDelete, actor.ID, target, err)
	}
	s.audit.Emit(ctx, authz.Approved(ActionPermissionDelete, actor.ID, target, before.values(), nil))
	return nil
}

// reauthorize re-reads the actor under lock and re-applies the catalog lock.
func reauthorize(ctx context.Context, store Store, actorID int64) error {
	fresh, err := store.LockActor(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return httpx.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !fresh.Active {
		return httpx.ErrUnauthorized
	}
	return authz.AuthorizeCatalog(fresh)
}

func (s *Service) fail(ctx context.Context, action string, actorID int64, target authz.TargetRef, err error) error {
	err = mapWriteError(err)
	if authz.IsDenied(err) {
		s.audit.Emit(ctx, authz.Denied(action, actorID, target, err))
	}
	return err
}

func normalizeInput(in PermissionInput) PermissionInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	return in
}

func mapWriteError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httpx.ErrNotFound
	}
	if _, ok := db.IsUniqueViolation(err); ok {
		v := &authz.Violations{}
		v.Add(authz.Deny(authz.KindValidation, "name", reasonNameTaken))
		return v
	}
	return err
}
