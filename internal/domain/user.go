package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is an account role. Roles are totally ordered by Level.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Level returns the position of the role in the hierarchy, 0 for unknown roles
func (r Role) Level() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperadmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.Level() > 0
}

// ParseRole normalizes and validates a role name
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Status is an account status
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// ParseStatus normalizes and validates a status name
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// Credential is the authentication view of a user row
type Credential struct {
	UserID       int64
	Username     string
	Email        string
	PasswordHash string // bcrypt, never serialized
	Status       Status
	Role         Role
}

// Summary returns the fields safe to hand to clients
func (c *Credential) Summary() UserSummary {
	return UserSummary{
		ID:       c.UserID,
		Username: c.Username,
		Email:    c.Email,
		Role:     c.Role,
		Status:   c.Status,
	}
}

// UserSummary is what the web layer sees of the current user
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Status   Status `json:"status"`
}

// CredentialRepository reads credential rows. The users table is owned by the
// CRUD layer; the core only writes password hashes, roles and statuses.
type CredentialRepository interface {
	GetByUsername(ctx context.Context, username string) (*Credential, error)
	GetByEmail(ctx context.Context, email string) (*Credential, error)
	GetByID(ctx context.Context, id int64) (*Credential, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	UpdateRole(ctx context.Context, id int64, role Role) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Group is a named set of permissions users can belong to
type Group struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// PermissionManageUsers allows changing other accounts' role and status
const PermissionManageUsers = "users.manage"

// Permission is a named capability granted through groups
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// PermissionRepository reads the group/permission junction tables
type PermissionRepository interface {
	GroupsForUser(ctx context.Context, userID int64) ([]Group, error)
	PermissionsForGroup(ctx context.Context, groupID int64) ([]Permission, error)
}
