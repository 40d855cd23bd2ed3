package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/shared"
)

var permissionDescriptions = map[string]string{
	shared.PermUsersView:       "List and inspect user accounts",
	shared.PermUsersEdit:       "Change user roles, permissions and status",
	shared.PermRolesView:       "List and inspect roles",
	shared.PermRolesEdit:       "Create, update and delete roles",
	shared.PermPermissionsView: "List the permission catalog",
	shared.PermAuditView:       "Read the admin action log",
	shared.PermContentView:     "Browse the movie and series catalog",
	shared.PermContentEdit:     "Edit catalog entries",
	shared.PermContentUpload:   "Upload media to the catalog",
}

// SeedStore persists the bootstrap data. Every method is idempotent.
type SeedStore interface {
	EnsurePermission(ctx context.Context, name, description string) (int64, error)
	EnsureRole(ctx context.Context, name string, hierarchy int) (int64, error)
	GrantRole(ctx context.Context, roleID int64, permissionIDs []int64) error
	// EnsureUser creates the user when the email is unused and reports whether it did.
	EnsureUser(ctx context.Context, email, name, passwordHash string, roleID int64) (int64, bool, error)
}

// SeedOptions defines available flags for the seed command.
type SeedOptions struct {
	AdminEmail    string
	AdminName     string
	AdminPassword string
	Stdout        io.Writer
	Stderr        io.Writer
}

// Seeder creates the canonical tier roles, the core permission catalog and a
// bootstrap super admin.
type Seeder struct {
	store SeedStore
	cost  int
}

// NewSeeder constructs a seeder.
func NewSeeder(store SeedStore) (*Seeder, error) {
	if store == nil {
		return nil, errors.New("seed: store not configured")
	}
	return &Seeder{store: store, cost: bcrypt.DefaultCost}, nil
}

// Seed runs the seeding workflow.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) error {
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" || len(opts.AdminPassword) < 8 {
		return errors.New("seed: admin email and a password of at least 8 characters are required")
	}
	if opts.AdminName == "" {
		opts.AdminName = "Administrator"
	}

	permIDs := make(map[string]int64, len(shared.CoreScopes()))
	for _, name := range shared.CoreScopes() {
		id, err := s.store.EnsurePermission(ctx, name, permissionDescriptions[name])
		if err != nil {
			return fmt.Errorf("seed: permission %s: %w", name, err)
		}
		permIDs[name] = id
	}

	var superAdminRole int64
	for _, tier := range authz.Tiers() {
		roleID, err := s.store.EnsureRole(ctx, tier.Name(), tier.Level())
		if err != nil {
			return fmt.Errorf("seed: role %s: %w", tier.Name(), err)
		}
		scopes := shared.ScopesForTier(tier.Level())
		ids := make([]int64, 0, len(scopes))
		for _, scope := range scopes {
			ids = append(ids, permIDs[scope])
		}
		if err := s.store.GrantRole(ctx, roleID, ids); err != nil {
			return fmt.Errorf("seed: grant %s: %w", tier.Name(), err)
		}
		if tier == authz.TierSuperAdmin {
			superAdminRole = roleID
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), s.cost)
	if err != nil {
		return fmt.Errorf("seed: hash password: %w", err)
	}
	id, created, err := s.store.EnsureUser(ctx, email, opts.AdminName, string(hash), superAdminRole)
	if err != nil {
		return fmt.Errorf("seed: admin user: %w", err)
	}
	if created {
		_, _ = fmt.Fprintf(opts.Stdout, "seed: created super admin %s (id %d)\n", email, id)
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "seed: super admin %s already exists (id %d)\n", email, id)
	}
	return nil
}

// SeedCommand executes Seed and maps the outcome to an exit code.
func (s *Seeder) SeedCommand(ctx context.Context, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if err := s.Seed(ctx, opts); err != nil {
		_, _ = fmt.Fprintln(opts.Stderr, err)
		return 1
	}
	return 0
}
