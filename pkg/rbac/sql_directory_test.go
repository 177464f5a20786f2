package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*SQLDirectory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLDirectory(db), mock
}

func TestGetUser(t *testing.T) {
	dir, mock := newMockDirectory(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, email, tenant_id, is_superuser, created_at").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "tenant_id", "is_superuser", "created_at"}).
			AddRow(1, "alice@example.com", "acme", false, now))

	user, err := dir.GetUser(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "acme", user.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserAbsent(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("SELECT id, email, tenant_id, is_superuser, created_at").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "tenant_id", "is_superuser", "created_at"}))

	user, err := dir.GetUser(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUserRoles(t *testing.T) {
	dir, mock := newMockDirectory(t)
	now := time.Now()

	mock.ExpectQuery("SELECT r.id, r.name, r.description").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow(10, "admin", "administrators", now, now).
			AddRow(11, "editor", nil, now, now))

	roles, err := dir.GetUserRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "administrators", roles[0].Description)
	assert.Empty(t, roles[1].Description)
}

func TestGetRolePermissions(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("SELECT p.id, p.name, p.resource, p.action").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "resource", "action"}).
			AddRow(1, "documents:read", "documents", "read"))

	perms, err := dir.GetRolePermissions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "documents:read", perms[0].Name)
}

func TestAssignRoleMissingRole(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs(int64(1), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}))

	err := dir.AssignRole(context.Background(), 1, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAssignRoleAlreadyAssigned(t *testing.T) {
	dir, mock := newMockDirectory(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs(int64(1), "editor").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_at", "updated_at"}).
			AddRow(11, "editor", nil, now, now))

	// zero rows with an existing role means the assignment already existed
	assert.NoError(t, dir.AssignRole(context.Background(), 1, "editor"))
}

func TestDeleteRoleNotFound(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectExec("DELETE FROM roles").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := dir.DeleteRole(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGrantPermissionUpsertsThenGrants(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectExec("INSERT INTO permissions").
		WithArgs("documents:read", "documents", "read").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs("editor", "documents:read").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, dir.GrantPermission(context.Background(), "editor", "documents:read"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
