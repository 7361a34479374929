package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service mutates the catalog and admin bindings. Every mutation is
// authorized against the acting admin's effective set, and every mutation
// that can change someone's set invalidates the cache before returning.
type Service struct {
	store    Store
	resolver *Resolver
}

// NewService creates a service. resolver must be built over the same store.
func NewService(store Store, resolver *Resolver) (*Service, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("permission: store and resolver required")
	}
	return &Service{store: store, resolver: resolver}, nil
}

// Resolver returns the resolver the service invalidates.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Seed installs the default catalog. See [Seed].
func (s *Service) Seed(ctx context.Context) error {
	return Seed(ctx, s.store)
}

// BootstrapSuperAdmin binds userID to SUPER_ADMIN when no admin holds that
// role yet. It is the only unauthenticated mutation and fails with
// [ErrForbidden] once a super admin exists.
func (s *Service) BootstrapSuperAdmin(ctx context.Context, userID string) error {
	role, err := s.store.GetRoleByName(ctx, SuperAdmin)
	if err != nil {
		return err
	}
	holders, err := s.store.UsersWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if len(holders) > 0 {
		return fmt.Errorf("%w: super admin already bootstrapped", ErrForbidden)
	}
	if err := s.store.SetBindingRole(ctx, userID, role.ID); err != nil {
		return err
	}
	return s.resolver.Invalidate(ctx, userID)
}

func (s *Service) authorize(ctx context.Context, actorID string, codes ...string) error {
	ok, err := s.resolver.RequirePermissions(ctx, actorID, codes...)
	if errors.Is(err, ErrNotAdmin) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrForbidden, strings.Join(codes, ","))
	}
	return nil
}

// ListRoles returns every role with its grants.
func (s *Service) ListRoles(ctx context.Context, actorID string) ([]Role, error) {
	if err := s.authorize(ctx, actorID, RolesRead); err != nil {
		return nil, err
	}
	return s.store.ListRoles(ctx)
}

// GetRole returns one role with its grants.
func (s *Service) GetRole(ctx context.Context, actorID, roleID string) (Role, error) {
	if err := s.authorize(ctx, actorID, RolesRead); err != nil {
		return Role{}, err
	}
	return s.store.GetRole(ctx, roleID)
}

// CreateRole adds a custom role granting codes.
func (s *Service) CreateRole(ctx context.Context, actorID, name, description string, codes []string) (Role, error) {
	if err := s.authorize(ctx, actorID, RolesWrite); err != nil {
		return Role{}, err
	}
	name = normalizeRoleName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	if IsSystemRole(name) {
		return Role{}, ErrRoleExists
	}
	if err := s.requireKnown(ctx, codes); err != nil {
		return Role{}, err
	}

	role, err := s.store.CreateRole(ctx, Role{Name: name, Description: description})
	if err != nil {
		return Role{}, err
	}
	if len(codes) > 0 {
		if err := s.store.SetRolePermissions(ctx, role.ID, codes); err != nil {
			return Role{}, err
		}
	}
	return s.store.GetRole(ctx, role.ID)
}

// UpdateRole renames or re-describes a custom role.
func (s *Service) UpdateRole(ctx context.Context, actorID, roleID, name, description string) error {
	if err := s.authorize(ctx, actorID, RolesWrite); err != nil {
		return err
	}
	role, err := s.mutableRole(ctx, roleID)
	if err != nil {
		return err
	}
	name = normalizeRoleName(name)
	if name == "" {
		name = role.Name
	}
	if IsSystemRole(name) {
		return ErrRoleExists
	}
	return s.store.UpdateRole(ctx, roleID, name, description)
}

// SetRolePermissions replaces a custom role's grants.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID string, codes []string) error {
	if err := s.authorize(ctx, actorID, RolesWrite); err != nil {
		return err
	}
	if _, err := s.mutableRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.requireKnown(ctx, codes); err != nil {
		return err
	}
	if err := s.store.SetRolePermissions(ctx, roleID, codes); err != nil {
		return err
	}
	return s.resolver.InvalidateRole(ctx, roleID)
}

// DeleteRole removes a custom role nobody is assigned.
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID string) error {
	if err := s.authorize(ctx, actorID, RolesDelete); err != nil {
		return err
	}
	if _, err := s.mutableRole(ctx, roleID); err != nil {
		return err
	}
	n, err := s.store.CountRoleAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d admin(s)", ErrRoleInUse, n)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// ListPermissions returns the catalog.
func (s *Service) ListPermissions(ctx context.Context, actorID string) ([]Permission, error) {
	if err := s.authorize(ctx, actorID, PermissionsRead); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx)
}

// CreatePermission adds a resource:action code to the catalog.
func (s *Service) CreatePermission(ctx context.Context, actorID, code, description string) (Permission, error) {
	if err := s.authorize(ctx, actorID, PermissionsWrite); err != nil {
		return Permission{}, err
	}
	code = strings.TrimSpace(code)
	resource, action, err := ParseCode(code)
	if err != nil {
		return Permission{}, err
	}
	p := Permission{Code: code, Resource: resource, Action: action, Description: description}
	if err := s.store.CreatePermission(ctx, p); err != nil {
		return Permission{}, err
	}
	return s.store.GetPermission(ctx, code)
}

// UpdatePermissionDescription changes a permission's description. Codes are
// immutable once created.
func (s *Service) UpdatePermissionDescription(ctx context.Context, actorID, code, description string) error {
	if err := s.authorize(ctx, actorID, PermissionsWrite); err != nil {
		return err
	}
	return s.store.UpdatePermissionDescription(ctx, code, description)
}

// DeletePermission removes a code no role grants. Overrides mentioning it
// are cleaned up and their admins invalidated.
func (s *Service) DeletePermission(ctx context.Context, actorID, code string) error {
	if err := s.authorize(ctx, actorID, PermissionsDelete); err != nil {
		return err
	}
	n, err := s.store.CountPermissionGrants(ctx, code)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d role(s)", ErrPermissionInUse, n)
	}
	affected, err := s.store.DeletePermission(ctx, code)
	if err != nil {
		return err
	}
	return s.resolver.Invalidate(ctx, affected...)
}

// CheckAssignable reports whether actorID may bind admins to roleID without
// changing anything.
func (s *Service) CheckAssignable(ctx context.Context, actorID, roleID string) error {
	if err := s.authorize(ctx, actorID, AdminsManage); err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Name == Customer {
		return ErrCustomerFixed
	}
	return nil
}

// AssignRole binds an admin to a role. The CUSTOMER role cannot be assigned.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID string) error {
	if err := s.CheckAssignable(ctx, actorID, roleID); err != nil {
		return err
	}
	if err := s.store.SetBindingRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.resolver.Invalidate(ctx, userID)
}

// SetOverride replaces an admin's additions and removals.
func (s *Service) SetOverride(ctx context.Context, actorID, userID string, ov Override) error {
	if err := s.authorize(ctx, actorID, AdminsManage); err != nil {
		return err
	}
	if err := s.requireKnown(ctx, ov.Add); err != nil {
		return err
	}
	if err := s.requireKnown(ctx, ov.Remove); err != nil {
		return err
	}
	if err := s.store.SetOverride(ctx, userID, ov); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotAdmin
		}
		return err
	}
	return s.resolver.Invalidate(ctx, userID)
}

func (s *Service) mutableRole(ctx context.Context, roleID string) (Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, fmt.Errorf("%w: %s", ErrSystemRoleImmutable, role.Name)
	}
	return role, nil
}

func (s *Service) requireKnown(ctx context.Context, codes []string) error {
	for _, c := range codes {
		if _, _, err := ParseCode(c); err != nil {
			return err
		}
		if _, err := s.store.GetPermission(ctx, c); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownPermission, c)
			}
			return err
		}
	}
	return nil
}

func normalizeRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
