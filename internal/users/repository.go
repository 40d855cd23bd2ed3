package users

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

// ErrNotFound indicates that the user does not exist.
var ErrNotFound = errors.New("users: not found")

// Repository is the persistence contract for users.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	List(ctx context.Context, filters ListFilters) ([]User, int, error)
	Get(ctx context.Context, id int64) (User, error)
	// FindUsers returns the non-deleted users among ids. With lock set the rows
	// are locked for update until the transaction ends.
	FindUsers(ctx context.Context, ids []int64, lock bool) (map[int64]User, error)
	FindRole(ctx context.Context, id int64) (*authz.Role, error)
	ActiveAdminHierarchies(ctx context.Context, lock bool) ([]int, error)
	SetRole(ctx context.Context, ids []int64, roleID int64) error
	SetStatus(ctx context.Context, ids []int64, to Status, from ...Status) error
	DirectPermissions(ctx context.Context, userID int64) ([]string, error)
	MissingPermissions(ctx context.Context, ids []int64) ([]int64, error)
	ReplacePermissions(ctx context.Context, userID int64, permissionIDs []int64) error
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

const userSelect = `SELECT u.id, u.email, u.name, u.status, u.created_at, u.updated_at, r.id, r.name, r.hierarchy
FROM users u LEFT JOIN roles r ON r.id = u.role_id`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]User, int, error) {
	var (
		clauses = []string{"u.status <> 'deleted'"}
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses[0] = fmt.Sprintf("u.status = $%d", len(args))
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, "%"+s+"%")
		clauses = append(clauses, fmt.Sprintf("(u.email ILIKE $%d OR u.name ILIKE $%d)", len(args), len(args)))
	}
	if filters.RoleID > 0 {
		args = append(args, filters.RoleID)
		clauses = append(clauses, fmt.Sprintf("u.role_id = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users u`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	args = append(args, filters.PerPage, (filters.Page-1)*filters.PerPage)
	rows, err := r.db.Query(ctx, userSelect+where+fmt.Sprintf(" ORDER BY u.id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	list, err := collectUsers(rows)
	return list, total, err
}

func (r *repository) Get(ctx context.Context, id int64) (User, error) {
	rows, err := r.db.Query(ctx, userSelect+` WHERE u.id = $1`, id)
	if err != nil {
		return User{}, err
	}
	list, err := collectUsers(rows)
	if err != nil {
		return User{}, err
	}
	if len(list) == 0 {
		return User{}, ErrNotFound
	}
	return list[0], nil
}

func (r *repository) FindUsers(ctx context.Context, ids []int64, lock bool) (map[int64]User, error) {
	query := userSelect + ` WHERE u.id = ANY($1) AND u.status <> 'deleted' ORDER BY u.id`
	if lock {
		query += ` FOR UPDATE OF u`
	}
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("users: find: %w", err)
	}
	list, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]User, len(list))
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}

func (r *repository) FindRole(ctx context.Context, id int64) (*authz.Role, error) {
	role := &authz.Role{}
	err := r.db.QueryRow(ctx, `SELECT id, name, hierarchy FROM roles WHERE id = $1 FOR SHARE`, id).Scan(&role.ID, &role.Name, &role.Hierarchy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (r *repository) ActiveAdminHierarchies(ctx context.Context, lock bool) ([]int, error) {
	query := `SELECT r.hierarchy FROM users u JOIN roles r ON r.id = u.role_id
WHERE u.status = 'active' AND r.hierarchy >= $1 ORDER BY u.id`
	if lock {
		query += ` FOR UPDATE OF u`
	}
	rows, err := r.db.Query(ctx, query, int(authz.TierAdmin))
	if err != nil {
		return nil, fmt.Errorf("users: admin pools: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *repository) SetRole(ctx context.Context, ids []int64, roleID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = ANY($1)`, ids, roleID)
	return err
}

func (r *repository) SetStatus(ctx context.Context, ids []int64, to Status, from ...Status) error {
	query := `UPDATE users SET status = $2::text, updated_at = NOW(),
  deleted_at = CASE WHEN $2::text = 'deleted' THEN NOW() ELSE NULL END
WHERE id = ANY($1)`
	args := []any{ids, string(to)}
	if len(from) > 0 {
		statuses := make([]string, len(from))
		for i, s := range from {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += ` AND status = ANY($3)`
	}
	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) DirectPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT p.name FROM permissions p JOIN permission_user pu ON pu.permission_id = p.id
WHERE pu.user_id = $1 ORDER BY p.name`, userID)
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

func (r *repository) ReplacePermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM permission_user WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("users: clear permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `INSERT INTO permission_user (permission_id, user_id)
SELECT DISTINCT unnest($2::bigint[]), $1 ON CONFLICT DO NOTHING`, userID, permissionIDs); err != nil {
		return fmt.Errorf("users: grant permissions: %w", err)
	}
	return nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var out []User
	for rows.Next() {
		var (
			u        User
			status   string
			roleID   *int64
			roleName *string
			level    *int
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &status, &u.CreatedAt, &u.UpdatedAt, &roleID, &roleName, &level); err != nil {
			return nil, err
		}
		u.Status = Status(status)
		if roleID != nil {
			u.Role = &RoleSummary{ID: *roleID, Name: *roleName, Hierarchy: *level}
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
