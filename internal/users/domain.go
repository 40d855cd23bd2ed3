// Package users manages accounts: listing, role assignment, direct permission
// overrides and guarded bulk actions.
package users

import (
	"time"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// Status is the lifecycle state of an account. Accounts are never hard deleted.
type Status string

// Account statuses.
const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
	StatusDeleted   Status = "deleted"
)

// RoleSummary is the role attached to a user.
type RoleSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Hierarchy int    `json:"hierarchy"`
}

// User represents a user account for management.
type User struct {
	ID          int64        `json:"id"`
	Email       string       `json:"email"`
	Name        string       `json:"name"`
	Status      Status       `json:"status"`
	Role        *RoleSummary `json:"role,omitempty"`
	Permissions []string     `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Principal converts the user into the guard's view of it.
func (u User) Principal() authz.Principal {
	p := authz.Principal{ID: u.ID, Active: u.Status == StatusActive}
	if u.Role != nil {
		p.Role = &authz.Role{ID: u.Role.ID, Name: u.Role.Name, Hierarchy: u.Role.Hierarchy}
	}
	return p
}

func (u User) values() map[string]any {
	out := map[string]any{"status": string(u.Status)}
	if u.Role != nil {
		out["role_id"] = u.Role.ID
		out["role"] = u.Role.Name
	} else {
		out["role_id"] = nil
	}
	return out
}

// ListFilters narrows the user listing.
type ListFilters struct {
	Search  string
	Status  Status
	RoleID  int64
	Page    int
	PerPage int
}

// RoleInput assigns a role to a single user.
type RoleInput struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

// PermissionsInput replaces a user's direct permission overrides.
type PermissionsInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// BulkPayload is the raw bulk action request.
type BulkPayload struct {
	Action  string  `json:"action" validate:"required"`
	UserIDs []int64 `json:"user_ids" validate:"required,min=1,max=500"`
	RoleID  *int64  `json:"role_id"`
	Reason  string  `json:"reason" validate:"max=500"`
}

// BulkResult reports what an approved bulk action changed.
type BulkResult struct {
	Action       string  `json:"action"`
	Affected     int     `json:"affected"`
	UserIDs      []int64 `json:"user_ids"`
	SelfExcluded bool    `json:"self_excluded"`
}
