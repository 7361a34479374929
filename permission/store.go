package permission

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("permission: not found")
	ErrRoleExists          = errors.New("role already exists")
	ErrPermissionExists    = errors.New("permission already exists")
	ErrUnknownPermission   = errors.New("unknown permission code")
	ErrInvalidCode         = errors.New("permission code must be resource:action")
	ErrInvalidInput        = errors.New("permission: invalid input")
	ErrSystemRoleImmutable = errors.New("system role cannot be modified")
	ErrRoleInUse           = errors.New("role is assigned to users")
	ErrPermissionInUse     = errors.New("permission is granted by a role")
	ErrForbidden           = errors.New("actor lacks required permission")
	ErrCustomerFixed       = errors.New("customer permissions are fixed")
	ErrNotAdmin            = errors.New("user has no admin role binding")
)

// Permission is one resource:action code in the catalog.
type Permission struct {
	ID          string
	Code        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// Role is a named bundle of permission codes.
type Role struct {
	ID          string
	Name        string
	Description string
	IsSystem    bool
	Permissions []string
	CreatedAt   time.Time
}

// Override adjusts one admin's grants on top of their role.
type Override struct {
	Add    []string
	Remove []string
}

// Binding is an admin's role assignment and override.
type Binding struct {
	UserID   string
	RoleID   string
	Override Override
}

// Store persists the catalog and admin bindings.
//
// CreateRole assigns an ID when the role has none. GetRole and GetRoleByName
// fill Role.Permissions. SetRolePermissions and SetOverride fail with
// [ErrUnknownPermission] for codes missing from the catalog.
// DeletePermission also strips the code from every override and returns the
// admins whose override changed.
type Store interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id, name, description string) error
	DeleteRole(ctx context.Context, id string) error
	SetRolePermissions(ctx context.Context, roleID string, codes []string) error
	CountRoleAssignments(ctx context.Context, roleID string) (int, error)
	UsersWithRole(ctx context.Context, roleID string) ([]string, error)

	CreatePermission(ctx context.Context, p Permission) error
	GetPermission(ctx context.Context, code string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpdatePermissionDescription(ctx context.Context, code, description string) error
	DeletePermission(ctx context.Context, code string) (affected []string, err error)
	CountPermissionGrants(ctx context.Context, code string) (int, error)

	GetBinding(ctx context.Context, userID string) (Binding, error)
	SetBindingRole(ctx context.Context, userID, roleID string) error
	SetOverride(ctx context.Context, userID string, ov Override) error
}
