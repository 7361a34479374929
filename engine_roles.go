package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/permission"
)

// Role and permission administration. Every mutation is authorized against
// the actor's effective permissions, invalidates the affected cache entries
// before returning and is audited.

func (e *Engine) ListRoles(ctx context.Context, actorID string) ([]permission.Role, error) {
	roles, err := e.roles.ListRoles(ctx, actorID)
	return roles, rolesErr(err)
}

func (e *Engine) GetRole(ctx context.Context, actorID, roleID string) (permission.Role, error) {
	role, err := e.roles.GetRole(ctx, actorID, roleID)
	return role, rolesErr(err)
}

// CreateRole adds a custom role granting codes, all of which must exist.
func (e *Engine) CreateRole(ctx context.Context, actorID, name, description string, codes []string) (permission.Role, error) {
	role, err := e.roles.CreateRole(ctx, actorID, name, description, codes)
	e.emitAdminAudit(ctx, auditRoleCreated, actorID, role.ID, err)
	return role, rolesErr(err)
}

// UpdateRole renames a custom role. System roles are immutable.
func (e *Engine) UpdateRole(ctx context.Context, actorID, roleID, name, description string) error {
	err := e.roles.UpdateRole(ctx, actorID, roleID, name, description)
	e.emitAdminAudit(ctx, auditRoleUpdated, actorID, roleID, err)
	return rolesErr(err)
}

// SetRolePermissions replaces a custom role's grants.
func (e *Engine) SetRolePermissions(ctx context.Context, actorID, roleID string, codes []string) error {
	err := e.roles.SetRolePermissions(ctx, actorID, roleID, codes)
	e.emitAdminAudit(ctx, auditRolePermissions, actorID, roleID, err)
	return rolesErr(err)
}

// DeleteRole removes a custom role nobody is bound to.
func (e *Engine) DeleteRole(ctx context.Context, actorID, roleID string) error {
	err := e.roles.DeleteRole(ctx, actorID, roleID)
	e.emitAdminAudit(ctx, auditRoleDeleted, actorID, roleID, err)
	return rolesErr(err)
}

func (e *Engine) ListPermissions(ctx context.Context, actorID string) ([]permission.Permission, error) {
	perms, err := e.roles.ListPermissions(ctx, actorID)
	return perms, rolesErr(err)
}

// CreatePermission registers a new resource:action code.
func (e *Engine) CreatePermission(ctx context.Context, actorID, code, description string) (permission.Permission, error) {
	p, err := e.roles.CreatePermission(ctx, actorID, code, description)
	e.emitAdminAudit(ctx, auditPermissionCreated, actorID, code, err)
	return p, rolesErr(err)
}

func (e *Engine) UpdatePermissionDescription(ctx context.Context, actorID, code, description string) error {
	err := e.roles.UpdatePermissionDescription(ctx, actorID, code, description)
	e.emitAdminAudit(ctx, auditPermissionUpdated, actorID, code, err)
	return rolesErr(err)
}

// DeletePermission removes a code no role grants. Overrides mentioning it
// are cleaned up.
func (e *Engine) DeletePermission(ctx context.Context, actorID, code string) error {
	err := e.roles.DeletePermission(ctx, actorID, code)
	e.emitAdminAudit(ctx, auditPermissionDeleted, actorID, code, err)
	return rolesErr(err)
}

// AssignRole binds the admin userID to roleID.
func (e *Engine) AssignRole(ctx context.Context, actorID, userID, roleID string) error {
	err := e.requireAdminAccount(ctx, userID)
	if err == nil {
		err = e.roles.AssignRole(ctx, actorID, userID, roleID)
	}
	e.emitAdminAudit(ctx, auditRoleAssigned, actorID, userID, err)
	return rolesErr(err)
}

// CreateAdmin provisions a verified admin account bound to roleID. The
// actor needs admins:manage, and the role is checked before the account is
// stored so a refused request leaves nothing behind.
func (e *Engine) CreateAdmin(ctx context.Context, actorID, email, password, roleID string) (UserRecord, error) {
	user, err := e.createAdmin(ctx, actorID, email, password, roleID)
	e.emitAdminAudit(ctx, auditAdminCreated, actorID, user.UserID, err)
	return user, err
}

func (e *Engine) createAdmin(ctx context.Context, actorID, email, password, roleID string) (UserRecord, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return UserRecord{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := e.roles.CheckAssignable(ctx, actorID, roleID); err != nil {
		return UserRecord{}, rolesErr(err)
	}
	if err := e.checkPolicy(password); err != nil {
		return UserRecord{}, err
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return UserRecord{}, err
	}

	user, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Kind:         KindAdmin,
		IsVerified:   true,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountDuplicate)
		}
		return UserRecord{}, userErr(err)
	}
	e.metricInc(MetricAccountCreated)

	// An unbound admin resolves to no permissions, so a failure here
	// leaves a harmless account that AssignRole can complete later.
	if err := e.roles.AssignRole(ctx, actorID, user.UserID, roleID); err != nil {
		return user, rolesErr(err)
	}
	return user, nil
}

// SetOverride replaces the per-admin additions and removals of userID.
func (e *Engine) SetOverride(ctx context.Context, actorID, userID string, ov permission.Override) error {
	err := e.roles.SetOverride(ctx, actorID, userID, ov)
	e.emitAdminAudit(ctx, auditOverrideSet, actorID, userID, err)
	return rolesErr(err)
}

// BootstrapSuperAdmin binds the first super admin. It only succeeds while
// nobody holds SUPER_ADMIN.
func (e *Engine) BootstrapSuperAdmin(ctx context.Context, userID string) error {
	err := e.requireAdminAccount(ctx, userID)
	if err == nil {
		err = e.roles.BootstrapSuperAdmin(ctx, userID)
	}
	e.emitAdminAudit(ctx, auditSuperAdminBootstrap, "", userID, err)
	return rolesErr(err)
}

// EffectivePermissions returns the resolved codes of an admin.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	set, err := e.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, rolesErr(err)
	}
	return set.Codes(), nil
}

func (e *Engine) requireAdminAccount(ctx context.Context, userID string) error {
	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return userErr(err)
	}
	if user.Kind != KindAdmin {
		return fmt.Errorf("%w: user %s is not an admin account", ErrInvalidInput, userID)
	}
	return nil
}

func rolesErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, permission.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, permission.ErrNotAdmin):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return storageErr(err)
	}
}
