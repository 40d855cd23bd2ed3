package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/db"
)

// ErrNotFound indicates that the role does not exist.
var ErrNotFound = errors.New("roles: not found")

// Repository is the persistence contract for roles.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	List(ctx context.Context, filters RoleListFilters) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	Lock(ctx context.Context, id int64) (Role, error)
	LockActor(ctx context.Context, userID int64) (authz.Principal, error)
	Create(ctx context.Context, name, description string, hierarchy int) (Role, error)
	Update(ctx context.Context, id int64, name, description string, hierarchy int) (Role, error)
	Delete(ctx context.Context, id int64) error
	CountUsers(ctx context.Context, id int64) (int, error)
	LockMembers(ctx context.Context, id int64) ([]authz.Principal, error)
	ActiveAdminHierarchies(ctx context.Context) ([]int, error)
	Permissions(ctx context.Context, id int64) ([]string, error)
	MissingPermissions(ctx context.Context, ids []int64) ([]int64, error)
	ReplacePermissions(ctx context.Context, id int64, permissionIDs []int64) error
}

type repository struct {
	db   db.Querier
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const roleColumns = `r.id, r.name, r.description, r.hierarchy, r.created_at, r.updated_at`

var sortColumns = map[string]string{
	"name":       "r.name",
	"hierarchy":  "r.hierarchy",
	"created_at": "r.created_at",
}

func (r *repository) List(ctx context.Context, filters RoleListFilters) ([]Role, error) {
	column, ok := sortColumns[filters.SortBy]
	if !ok {
		column = "r.hierarchy"
	}
	dir := "DESC"
	if strings.EqualFold(filters.SortDir, "asc") {
		dir = "ASC"
	}
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+`,
  (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id AND u.status <> 'deleted')
FROM roles r ORDER BY `+column+` `+dir+`, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt, &role.UserCount); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Role, error) {
	return r.scanOne(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id)
}

func (r *repository) Lock(ctx context.Context, id int64) (Role, error) {
	return r.scanOne(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 FOR UPDATE`, id)
}

func (r *repository) LockActor(ctx context.Context, userID int64) (authz.Principal, error) {
	var (
		p        authz.Principal
		status   string
		roleID   *int64
		roleName *string
		level    *int
	)
	err := r.db.QueryRow(ctx, `SELECT u.id, u.status, r.id, r.name, r.hierarchy
FROM users u LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = $1 FOR SHARE OF u`, userID).Scan(&p.ID, &status, &roleID, &roleName, &level)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Principal{}, ErrNotFound
	}
	if err != nil {
		return authz.Principal{}, err
	}
	p.Active = status == "active"
	if roleID != nil {
		p.Role = &authz.Role{ID: *roleID, Name: *roleName, Hierarchy: *level}
	}
	return p, nil
}

func (r *repository) Create(ctx context.Context, name, description string, hierarchy int) (Role, error) {
	return r.scanOne(ctx, `INSERT INTO roles AS r (name, description, hierarchy) VALUES ($1, $2, $3) RETURNING `+roleColumns, name, description, hierarchy)
}

func (r *repository) Update(ctx context.Context, id int64, name, description string, hierarchy int) (Role, error) {
	return r.scanOne(ctx, `UPDATE roles AS r SET name = $2, description = $3, hierarchy = $4, updated_at = NOW() WHERE r.id = $1 RETURNING `+roleColumns, id, name, description, hierarchy)
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers counts every user row referencing the role, soft-deleted ones
// included, since the foreign key still points at it.
func (r *repository) CountUsers(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id).Scan(&n)
	return n, err
}

func (r *repository) LockMembers(ctx context.Context, id int64) ([]authz.Principal, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.status = 'active', r.id, r.name, r.hierarchy
FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.role_id = $1 AND u.status <> 'deleted'
ORDER BY u.id FOR UPDATE OF u`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []authz.Principal
	for rows.Next() {
		var p authz.Principal
		role := &authz.Role{}
		if err := rows.Scan(&p.ID, &p.Active, &role.ID, &role.Name, &role.Hierarchy); err != nil {
			return nil, err
		}
		p.Role = role
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) ActiveAdminHierarchies(ctx context.Context) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT r.hierarchy FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.status = 'active' AND r.hierarchy >= $1
ORDER BY u.id FOR UPDATE OF u`, int(authz.TierAdmin))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *repository) Permissions(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT p.name FROM permissions p JOIN permission_role pr ON pr.permission_id = p.id
WHERE pr.role_id = $1 ORDER BY p.name`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) MissingPermissions(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT want.id FROM unnest($1::bigint[]) AS want(id)
LEFT JOIN permissions p ON p.id = want.id WHERE p.id IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *repository) ReplacePermissions(ctx context.Context, id int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM permission_role WHERE role_id = $1`, id); err != nil {
		return fmt.Errorf("roles: clear permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `INSERT INTO permission_role (permission_id, role_id)
SELECT DISTINCT unnest($2::bigint[]), $1 ON CONFLICT DO NOTHING`, id, permissionIDs); err != nil {
		return fmt.Errorf("roles: grant permissions: %w", err)
	}
	return nil
}

func (r *repository) scanOne(ctx context.Context, sql string, args ...any) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx, sql, args...).Scan(&role.ID, &role.Name, &role.Description, &role.Hierarchy, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	return role, err
}
