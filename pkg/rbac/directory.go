package rbac

import "context"

// Directory is the authority-of-record read interface the resolver computes
// from on a cache miss. Lookups return (nil, nil) when the entity does not
// exist; errors are reserved for backend failures.
type Directory interface {
	// GetUser returns a user by id
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetUserRoles returns all roles assigned to a user
	GetUserRoles(ctx context.Context, userID int64) ([]Role, error)

	// GetRolePermissions returns all permissions granted by a role
	GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)

	// GetRoleByName returns a role by its unique name
	GetRoleByName(ctx context.Context, name string) (*Role, error)
}

// Management extends Directory with the mutation operations the admin
// handlers need. Every mutation must be followed by a resolver
// invalidation; the handlers in this package own that obligation.
type Management interface {
	Directory

	// CreateRole creates a new role
	CreateRole(ctx context.Context, role *Role) error

	// DeleteRole deletes a role by name
	DeleteRole(ctx context.Context, name string) error

	// AssignRole assigns a role to a user
	AssignRole(ctx context.Context, userID int64, roleName string) error

	// RemoveRole removes a role from a user
	RemoveRole(ctx context.Context, userID int64, roleName string) error

	// GrantPermission adds a permission to a role, creating the permission
	// record when it does not exist yet
	GrantPermission(ctx context.Context, roleName, permissionName string) error

	// RevokePermission removes a permission from a role
	RevokePermission(ctx context.Context, roleName, permissionName string) error
}
