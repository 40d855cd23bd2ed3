// Package rbac owns the permission catalog and resolves effective permissions.
package rbac

import "time"

// Permission represents an atomic capability.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionInput is the payload for creating or renaming a permission.
type PermissionInput struct {
	Name        string `json:"name" validate:"required,snake_case,max=100"`
	Description string `json:"description" validate:"max=255"`
}

func (p Permission) values() map[string]any {
	return map[string]any{"name": p.Name, "description": p.Description}
}
