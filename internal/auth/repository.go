package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Repository provides persistence operations for authentication.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	LoadActor(ctx context.Context, id int64) (shared.Actor, error)
}

// PGRepository implements Repository using pgx.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email address.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, password_hash, status FROM users WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email))).
		Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("auth: find by email: %w", err)
	}
	return a, nil
}

// LoadActor reads the user and its role as of now.
func (r *PGRepository) LoadActor(ctx context.Context, id int64) (shared.Actor, error) {
	var (
		actor     shared.Actor
		status    string
		roleID    *int64
		roleName  *string
		hierarchy *int
	)
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.email, u.name, u.status, r.id, r.name, r.hierarchy
FROM users u LEFT JOIN roles r ON r.id = u.role_id
WHERE u.id = $1`, id).Scan(&actor.ID, &actor.Email, &actor.Name, &status, &roleID, &roleName, &hierarchy)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Actor{}, shared.ErrNotFound
	}
	if err != nil {
		return shared.Actor{}, fmt.Errorf("auth: load actor: %w", err)
	}
	actor.Active = status == "active"
	if roleID != nil {
		actor.Role = &authz.Role{ID: *roleID, Name: *roleName, Hierarchy: *hierarchy}
	}
	return actor, nil
}
