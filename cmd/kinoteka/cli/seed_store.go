package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinoteka/kinoteka/internal/platform/db"
)

var errSeedFailed = errors.New("seed failed")

// PGSeedStore writes seed data through a single transaction.
type PGSeedStore struct {
	db db.Querier
}

// RunSeed executes the seeder against pool inside one transaction.
func RunSeed(ctx context.Context, pool *pgxpool.Pool, opts SeedOptions) int {
	code := 0
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		seeder, err := NewSeeder(&PGSeedStore{db: tx})
		if err != nil {
			return err
		}
		if code = seeder.SeedCommand(ctx, opts); code != 0 {
			return errSeedFailed
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSeedFailed) {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	return code
}

func (s *PGSeedStore) EnsurePermission(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
RETURNING id`, name, description).Scan(&id)
	return id, err
}

func (s *PGSeedStore) EnsureRole(ctx context.Context, name string, hierarchy int) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO roles (name, hierarchy) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET hierarchy = EXCLUDED.hierarchy, updated_at = NOW()
RETURNING id`, name, hierarchy).Scan(&id)
	return id, err
}

func (s *PGSeedStore) GrantRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `INSERT INTO permission_role (permission_id, role_id)
SELECT unnest($1::bigint[]), $2
ON CONFLICT DO NOTHING`, permissionIDs, roleID)
	return err
}

func (s *PGSeedStore) EnsureUser(ctx context.Context, email, name, passwordHash string, roleID int64) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = $1`, email).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	err = s.db.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, status, role_id)
VALUES ($1, $2, $3, 'active', $4) RETURNING id`, email, name, passwordHash, roleID).Scan(&id)
	return id, err == nil, err
}
