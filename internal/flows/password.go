package flows

import (
	"context"
	"crypto/subtle"
	"errors"
)

// PasswordMetrics carries metric IDs used by the password flows.
type PasswordMetrics struct {
	ResetSuccess     int
	ChangeSuccess    int
	ChangeInvalidOld int
	OTPFailed        int
	OTPVerified      int
}

// PasswordEvents carries audit event names used by the password flows.
type PasswordEvents struct {
	Reset   string
	Changed string
}

// PasswordErrors carries host-level sentinel errors used by the password flows.
type PasswordErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	PasswordReuse      error
	OTPInvalid         error
	UserNotFound       error
}

// PasswordDeps captures password reset and change dependencies.
type PasswordDeps struct {
	CheckResetRate  func(ctx context.Context, email string) error
	CheckChangeRate func(ctx context.Context, userID string) error
	CheckPolicy     func(string) error
	// VerifyResetCode consumes a PASSWORD_RESET code for email.
	VerifyResetCode func(ctx context.Context, email, code string) error

	GetUserByEmail     func(context.Context, string) (User, error)
	GetUserByID        func(context.Context, string) (User, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error
	VerifyPassword     func(plain, hash string) (bool, error)
	HashPassword       func(string) (string, error)
	RevokeAllForUser   func(ctx context.Context, userID string) (int64, error)

	Hooks
	Metrics PasswordMetrics
	Events  PasswordEvents
	Errors  PasswordErrors
}

func (d *PasswordDeps) ready() bool {
	return d.CheckPolicy != nil && d.UpdatePasswordHash != nil && d.HashPassword != nil && d.RevokeAllForUser != nil
}

// RunResetPassword sets a new password for the holder of a valid reset code
// and revokes every token family of the account.
func RunResetPassword(ctx context.Context, email, code, newPassword string, deps PasswordDeps) error {
	deps.Hooks.fill()
	if !deps.ready() || deps.VerifyResetCode == nil || deps.GetUserByEmail == nil {
		return deps.Errors.EngineNotReady
	}

	if deps.CheckResetRate != nil {
		if err := deps.CheckResetRate(ctx, email); err != nil {
			return err
		}
	}
	// Policy runs first so a weak password does not burn a code attempt.
	if err := deps.CheckPolicy(newPassword); err != nil {
		return err
	}

	if err := deps.VerifyResetCode(ctx, email, code); err != nil {
		deps.MetricInc(deps.Metrics.OTPFailed)
		deps.EmitAudit(ctx, deps.Events.Reset, false, "", err, func() map[string]string {
			return map[string]string{"email": email}
		})
		return err
	}
	deps.MetricInc(deps.Metrics.OTPVerified)

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			return deps.Errors.OTPInvalid
		}
		return err
	}

	if err := setPassword(ctx, user.ID, newPassword, &deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.Reset, false, user.ID, err, nil)
		return err
	}

	deps.MetricInc(deps.Metrics.ResetSuccess)
	deps.EmitAudit(ctx, deps.Events.Reset, true, user.ID, nil, nil)
	return nil
}

// RunChangePassword replaces the password of an authenticated user after
// checking the current one, then revokes every token family.
func RunChangePassword(ctx context.Context, userID, current, next string, deps PasswordDeps) error {
	deps.Hooks.fill()
	if !deps.ready() || deps.GetUserByID == nil || deps.VerifyPassword == nil {
		return deps.Errors.EngineNotReady
	}

	if deps.CheckChangeRate != nil {
		if err := deps.CheckChangeRate(ctx, userID); err != nil {
			return err
		}
	}

	user, err := deps.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := deps.VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		deps.MetricInc(deps.Metrics.ChangeInvalidOld)
		deps.EmitAudit(ctx, deps.Events.Changed, false, user.ID, deps.Errors.InvalidCredentials, nil)
		return deps.Errors.InvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(next)) == 1 {
		return deps.Errors.PasswordReuse
	}
	if err := deps.CheckPolicy(next); err != nil {
		return err
	}

	if err := setPassword(ctx, user.ID, next, &deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.Changed, false, user.ID, err, nil)
		return err
	}

	deps.MetricInc(deps.Metrics.ChangeSuccess)
	deps.EmitAudit(ctx, deps.Events.Changed, true, user.ID, nil, nil)
	return nil
}

func setPassword(ctx context.Context, userID, plain string, deps *PasswordDeps) error {
	hash, err := deps.HashPassword(plain)
	if err != nil {
		return err
	}
	if err := deps.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	// The new password is in place; a failed revocation is still reported
	// so old sessions are not silently left alive.
	if _, err := deps.RevokeAllForUser(ctx, userID); err != nil {
		deps.Warn("authcore: revoking sessions after password update failed", "user_id", userID, "error", err)
		return err
	}
	return nil
}
