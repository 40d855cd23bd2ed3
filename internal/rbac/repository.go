package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/db"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Repository provides PostgreSQL backed persistence for the permission catalog.
type Repository struct {
	db   db.Querier
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx runs fn against a repository bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool})
	})
}

// LockActor reads the acting user and its role, holding a share lock on the user row.
func (r *Repository) LockActor(ctx context.Context, userID int64) (authz.Principal, error) {
	var (
		p         authz.Principal
		status    string
		roleID    *int64
		roleName  *string
		hierarchy *int
	)
	err := r.db.QueryRow(ctx, `SELECT u.id, u.status, r.id, r.name, r.hierarchy
FROM users u LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = $1 FOR SHARE OF u`, userID).Scan(&p.ID, &status, &roleID, &roleName, &hierarchy)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Principal{}, ErrNotFound
	}
	if err != nil {
		return authz.Principal{}, fmt.Errorf("rbac: lock actor: %w", err)
	}
	p.Active = status == "active"
	if roleID != nil {
		p.Role = &authz.Role{ID: *roleID, Name: *roleName, Hierarchy: *hierarchy}
	}
	return p, nil
}

const permissionColumns = `id, name, description, created_at, updated_at`

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LockPermission fetches a permission by ID and locks the row.
func (r *Repository) LockPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	return p, err
}

// CreatePermission inserts a permission.
func (r *Repository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	return scanPermission(r.db.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2) RETURNING `+permissionColumns, name, description))
}

// UpdatePermission renames a permission.
func (r *Repository) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `UPDATE permissions SET name = $2, description = $3, updated_at = NOW() WHERE id = $1 RETURNING `+permissionColumns, id, name, description))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	return p, err
}

// DeletePermission removes a permission and its grants.
func (r *Repository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EffectivePermissions returns the deduplicated union of the permissions granted
// through the user's role and directly to the user. Inactive users hold nothing.
func (r *Repository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT p.name FROM permissions p
JOIN permission_role pr ON pr.permission_id = p.id
JOIN users u ON u.role_id = pr.role_id
WHERE u.id = $1 AND u.status = 'active'
UNION
SELECT p.name FROM permissions p
JOIN permission_user pu ON pu.permission_id = p.id
JOIN users u ON u.id = pu.user_id
WHERE u.id = $1 AND u.status = 'active'
ORDER BY 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
