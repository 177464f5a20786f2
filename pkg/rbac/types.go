package rbac

import (
	"strings"
	"time"
)

// User is an identity with a set of assigned roles. IsSuperuser
// short-circuits every permission check.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	TenantID    string    `json:"tenant_id,omitempty"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named collection of permissions, assignable to many users.
// Role names are unique.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a named capability, conventionally "<resource>:<action>".
// Name is the unique lookup key; Resource and Action exist for analytic
// grouping.
type Permission struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// ParsePermission splits a "<resource>:<action>" name into a Permission.
// Names without a colon get an empty action.
func ParsePermission(name string) Permission {
	p := Permission{Name: name}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		p.Resource = name[:i]
		p.Action = name[i+1:]
	} else {
		p.Resource = name
	}
	return p
}

// Protected role names. Protected roles cannot be deleted, and changing
// their membership requires a superuser or a holder of the superadmin role.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// IsProtectedRole reports whether the named role is protected.
func IsProtectedRole(name string) bool {
	return name == RoleAdmin || name == RoleSuperAdmin
}
