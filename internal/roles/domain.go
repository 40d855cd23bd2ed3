// Package roles manages role definitions and their permission grants.
package roles

import (
	"time"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// Role represents a role for management.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Hierarchy   int       `json:"hierarchy"`
	Tier        string    `json:"tier"`
	UserCount   int       `json:"user_count"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleInput is the payload for creating or updating a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
	Hierarchy   *int   `json:"hierarchy" validate:"required,min=0,max=100"`
}

// PermissionsInput replaces the permissions granted by a role.
type PermissionsInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// RoleListFilters controls list ordering.
type RoleListFilters struct {
	SortBy  string
	SortDir string
}

func (r Role) authz() authz.Role {
	return authz.Role{ID: r.ID, Name: r.Name, Hierarchy: r.Hierarchy}
}

func (r Role) values() map[string]any {
	return map[string]any{"name": r.Name, "description": r.Description, "hierarchy": r.Hierarchy}
}
