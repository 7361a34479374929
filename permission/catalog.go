package permission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// System role names. These roles are seeded once and are immutable afterwards.
const (
	SuperAdmin = "SUPER_ADMIN"
	Manager    = "MANAGER"
	Support    = "SUPPORT"
	Customer   = "CUSTOMER"
)

// Permission codes of the seed catalog.
const (
	UsersRead         = "users:read"
	UsersWrite        = "users:write"
	UsersDelete       = "users:delete"
	RolesRead         = "roles:read"
	RolesWrite        = "roles:write"
	RolesDelete       = "roles:delete"
	PermissionsRead   = "permissions:read"
	PermissionsWrite  = "permissions:write"
	PermissionsDelete = "permissions:delete"
	AdminsManage      = "admins:manage"
	OrdersRead        = "orders:read"
	OrdersWrite       = "orders:write"
	ProductsRead      = "products:read"
	ProductsWrite     = "products:write"
	SystemConfig      = "system:config"
	ProfileRead       = "profile:read"
	ProfileWrite      = "profile:write"
)

// Wildcard is the code a wildcard [Set] reports from [Set.Codes].
const Wildcard = "*"

// CustomerPermissions is the fixed set granted to every customer.
var CustomerPermissions = []string{ProfileRead, ProfileWrite, OrdersRead, OrdersWrite}

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*:[a-z][a-z0-9_]*$`)

// ParseCode validates a resource:action code and returns its halves.
func ParseCode(code string) (resource, action string, err error) {
	if !codePattern.MatchString(code) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	resource, action, _ = strings.Cut(code, ":")
	return resource, action, nil
}

// IsSystemRole reports whether name is one of the seeded system roles.
func IsSystemRole(name string) bool {
	switch name {
	case SuperAdmin, Manager, Support, Customer:
		return true
	}
	return false
}

type seedPermission struct {
	code        string
	description string
}

var seedPermissions = []seedPermission{
	{UsersRead, "View users"},
	{UsersWrite, "Create and update users"},
	{UsersDelete, "Deactivate users"},
	{RolesRead, "View roles"},
	{RolesWrite, "Create and update roles"},
	{RolesDelete, "Delete roles"},
	{PermissionsRead, "View permissions"},
	{PermissionsWrite, "Create and update permissions"},
	{PermissionsDelete, "Delete permissions"},
	{AdminsManage, "Assign roles and overrides to admins"},
	{OrdersRead, "View orders"},
	{OrdersWrite, "Create and update orders"},
	{ProductsRead, "View products"},
	{ProductsWrite, "Create and update products"},
	{SystemConfig, "Change system configuration"},
	{ProfileRead, "View own profile"},
	{ProfileWrite, "Update own profile"},
}

type seedRole struct {
	name        string
	description string
	codes       []string
}

var seedRoles = []seedRole{
	{SuperAdmin, "Unrestricted access", nil},
	{Manager, "Day-to-day operations", []string{UsersRead, UsersWrite, OrdersRead, OrdersWrite, ProductsRead, ProductsWrite}},
	{Support, "Customer support", []string{UsersRead, OrdersRead}},
	{Customer, "Storefront customer", nil},
}

// Seed installs the default permission catalog and the system roles. It is
// idempotent: existing entries are left untouched.
//
// SUPER_ADMIN is stored with every seeded permission so listings show
// something sensible; resolution treats it as the wildcard regardless.
// CUSTOMER is stored without grants because customers resolve to
// [CustomerPermissions].
func Seed(ctx context.Context, store Store) error {
	all := make([]string, 0, len(seedPermissions))
	for _, p := range seedPermissions {
		resource, action, err := ParseCode(p.code)
		if err != nil {
			return err
		}
		err = store.CreatePermission(ctx, Permission{
			Code:        p.code,
			Resource:    resource,
			Action:      action,
			Description: p.description,
		})
		if err != nil && !errors.Is(err, ErrPermissionExists) {
			return fmt.Errorf("seed permission %s: %w", p.code, err)
		}
		all = append(all, p.code)
	}

	for _, r := range seedRoles {
		if _, err := store.GetRoleByName(ctx, r.name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seed role %s: %w", r.name, err)
		}

		codes := r.codes
		if r.name == SuperAdmin {
			codes = all
		}
		role := Role{Name: r.name, Description: r.description, IsSystem: true}
		created, err := store.CreateRole(ctx, role)
		if err != nil && !errors.Is(err, ErrRoleExists) {
			return fmt.Errorf("seed role %s: %w", r.name, err)
		}
		if err != nil {
			continue
		}
		if len(codes) > 0 {
			if err := store.SetRolePermissions(ctx, created.ID, codes); err != nil {
				return fmt.Errorf("seed role %s grants: %w", r.name, err)
			}
		}
	}
	return nil
}
