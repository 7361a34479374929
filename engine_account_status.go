package authcore

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authcore/permission"
)

// AccountStatusUpdater is implemented by user stores that can deactivate
// accounts. Accounts are never deleted.
type AccountStatusUpdater interface {
	SetActive(ctx context.Context, userID string, active bool) error
}

// DeactivateAccount blocks userID from logging in and revokes every refresh
// token it holds. The actor needs users:write and cannot deactivate itself.
// Access tokens already issued stay valid until they expire.
func (e *Engine) DeactivateAccount(ctx context.Context, actorID, userID string) error {
	err := e.setAccountActive(ctx, actorID, userID, false)
	if err == nil {
		if _, rerr := e.ledger.RevokeAllForUser(ctx, userID); rerr != nil {
			err = storageErr(rerr)
		}
	}
	e.emitAdminAudit(ctx, auditAccountDeactivated, actorID, userID, err)
	return err
}

// ReactivateAccount lets userID log in again.
func (e *Engine) ReactivateAccount(ctx context.Context, actorID, userID string) error {
	err := e.setAccountActive(ctx, actorID, userID, true)
	e.emitAdminAudit(ctx, auditAccountReactivated, actorID, userID, err)
	return err
}

func (e *Engine) setAccountActive(ctx context.Context, actorID, userID string, active bool) error {
	updater, ok := e.userProvider.(AccountStatusUpdater)
	if !ok {
		return fmt.Errorf("%w: user provider cannot change account status", ErrEngineNotReady)
	}
	if actorID == "" || userID == "" {
		return ErrInvalidInput
	}
	if !active && actorID == userID {
		return fmt.Errorf("%w: cannot deactivate own account", ErrInvalidInput)
	}

	perms, err := e.resolver.EffectivePermissions(ctx, actorID)
	if err != nil {
		return rolesErr(err)
	}
	if !perms.Has(permission.UsersWrite) {
		e.metricInc(MetricPermissionDenied)
		return fmt.Errorf("%w: %s required", ErrPermissionDenied, permission.UsersWrite)
	}

	if _, err := e.userProvider.GetUserByID(ctx, userID); err != nil {
		return userErr(err)
	}
	if err := updater.SetActive(ctx, userID, active); err != nil {
		return userErr(err)
	}
	return nil
}
