package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLDirectory is the SQL-backed authority of record. It implements both
// Directory and Management over a standard *sql.DB (postgres driver).
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a new SQL-backed directory
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// GetUser returns a user by id, or (nil, nil) when absent
func (d *SQLDirectory) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, email, tenant_id, is_superuser, created_at
		FROM users
		WHERE id = $1
	`

	var user User
	var tenantID sql.NullString
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&tenantID,
		&user.IsSuperuser,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if tenantID.Valid {
		user.TenantID = tenantID.String
	}
	return &user, nil
}

// GetUserRoles returns all roles assigned to a user
func (d *SQLDirectory) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`

	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if description.Valid {
			role.Description = description.String
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// GetRolePermissions returns all permissions granted by a role
func (d *SQLDirectory) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.resource, p.action
		FROM permissions p
		JOIN role_permissions rp ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`

	rows, err := d.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, perm)
	}

	return permissions, rows.Err()
}

// GetRoleByName returns a role by its unique name, or (nil, nil) when absent
func (d *SQLDirectory) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE name = $1
	`

	var role Role
	var description sql.NullString
	err := d.db.QueryRowContext(ctx, query, name).Scan(
		&role.ID,
		&role.Name,
		&description,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if description.Valid {
		role.Description = description.String
	}
	return &role, nil
}

// CreateRole creates a new role
func (d *SQLDirectory) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := d.db.QueryRowContext(ctx, query, role.Name, role.Description).Scan(
		&role.ID,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// DeleteRole deletes a role by name
func (d *SQLDirectory) DeleteRole(ctx context.Context, name string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM roles WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role %q not found", name)
	}
	return nil
}

// AssignRole assigns a role to a user
func (d *SQLDirectory) AssignRole(ctx context.Context, userID int64, roleName string) error {
	query := `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, r.id FROM roles r WHERE r.name = $2
		ON CONFLICT (user_id, role_id) DO NOTHING
	`

	result, err := d.db.ExecContext(ctx, query, userID, roleName)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	// Zero rows means either the role does not exist or the assignment
	// already existed; distinguish so callers see a real not-found.
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		role, err := d.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}
		if role == nil {
			return fmt.Errorf("role %q not found", roleName)
		}
	}
	return nil
}

// RemoveRole removes a role from a user
func (d *SQLDirectory) RemoveRole(ctx context.Context, userID int64, roleName string) error {
	query := `
		DELETE FROM user_roles
		WHERE user_id = $1
		  AND role_id = (SELECT id FROM roles WHERE name = $2)
	`

	if _, err := d.db.ExecContext(ctx, query, userID, roleName); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// GrantPermission adds a permission to a role, creating the permission
// record when it does not exist yet
func (d *SQLDirectory) GrantPermission(ctx context.Context, roleName, permissionName string) error {
	perm := ParsePermission(permissionName)

	upsert := `
		INSERT INTO permissions (name, resource, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := d.db.ExecContext(ctx, upsert, perm.Name, perm.Resource, perm.Action); err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}

	grant := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id
		FROM roles r, permissions p
		WHERE r.name = $1 AND p.name = $2
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`
	if _, err := d.db.ExecContext(ctx, grant, roleName, permissionName); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a permission from a role
func (d *SQLDirectory) RevokePermission(ctx context.Context, roleName, permissionName string) error {
	query := `
		DELETE FROM role_permissions
		WHERE role_id = (SELECT id FROM roles WHERE name = $1)
		  AND permission_id = (SELECT id FROM permissions WHERE name = $2)
	`

	if _, err := d.db.ExecContext(ctx, query, roleName, permissionName); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}
