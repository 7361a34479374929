package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/otp"
)

// Register creates an unverified customer account and sends it an email
// verification code. The account exists once Register returns nil even if
// the code could not be delivered; the customer can ask for a new one with
// [Engine.RequestOTP].
func (e *Engine) Register(ctx context.Context, email, password string) (UserRecord, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return UserRecord{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := e.checkEndpoint(ctx, limiters.ScopeRegister, email); err != nil {
		return UserRecord{}, err
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
		Kind:         KindCustomer,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountDuplicate)
		}
		e.emitAudit(ctx, auditRegister, false, "", err, nil)
		return UserRecord{}, userErr(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditRegister, true, user.UserID, nil, nil)

	if err := e.issueAndSend(ctx, email, otp.EmailVerification); err != nil {
		e.logger.Warn("verification code not sent after registration", "user_id", user.UserID, "error", err)
	}
	return user, nil
}

// RequestOTP issues a code of typ for email and delivers it.
//
// The cooldown, hourly limit and lockout run whether or not the email
// belongs to an account, and an unknown email returns nil, so the response
// never reveals which addresses are registered. Verification codes are not
// sent to accounts that are already verified.
func (e *Engine) RequestOTP(ctx context.Context, email string, typ otp.Type) error {
	email = normalizeEmail(email)
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown otp type %q", ErrInvalidInput, typ)
	}
	if !validEmail(email) {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := e.checkEndpoint(ctx, limiters.ScopeResendOTP, email); err != nil {
		return err
	}

	code, err := e.requestCode(ctx, email, typ)
	if err != nil {
		return err
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil
	case err != nil:
		return storageErr(err)
	}
	if typ == otp.EmailVerification && user.IsVerified {
		return nil
	}

	e.deliver(ctx, user.UserID, email, typ, code)
	return nil
}

// VerifyEmail consumes an email verification code and marks the account
// verified. Customers can log in afterwards.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	if err := e.checkEndpoint(ctx, limiters.ScopeVerifyEmail, email); err != nil {
		return err
	}

	if err := e.verifyCode(ctx, email, otp.EmailVerification, code); err != nil {
		e.metricInc(MetricOTPFailed)
		e.emitAudit(ctx, auditOTPFailed, false, "", err, func() map[string]string {
			return map[string]string{"type": string(otp.EmailVerification)}
		})
		return err
	}
	e.metricInc(MetricOTPVerified)

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrOTPInvalid
		}
		return storageErr(err)
	}
	if !user.IsVerified {
		if err := e.userProvider.MarkVerified(ctx, user.UserID); err != nil {
			return storageErr(err)
		}
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEmailVerified, true, user.UserID, nil, nil)
	return nil
}

// ResetPassword sets a new password using a PASSWORD_RESET code and revokes
// every session of the account.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	err := flows.RunResetPassword(ctx, normalizeEmail(email), code, newPassword, e.flows.Password)
	return storageErr(err)
}

// ChangePassword replaces the password of an authenticated user and revokes
// every session, including the caller's.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	err := flows.RunChangePassword(ctx, userID, currentPassword, newPassword, e.flows.Password)
	return storageErr(err)
}

// ResetOTPLockout lifts the 24h code generation lockout of email.
func (e *Engine) ResetOTPLockout(ctx context.Context, email string) error {
	if err := e.otp.ResetLockout(ctx, normalizeEmail(email)); err != nil {
		return storageErr(err)
	}
	return nil
}

func (e *Engine) issueAndSend(ctx context.Context, email string, typ otp.Type) error {
	code, err := e.requestCode(ctx, email, typ)
	if err != nil {
		return err
	}
	e.deliver(ctx, "", email, typ, code)
	return nil
}

func (e *Engine) requestCode(ctx context.Context, email string, typ otp.Type) (string, error) {
	code, err := e.otp.Request(ctx, email, typ)
	if err == nil {
		e.metricInc(MetricOTPIssued)
		e.emitAudit(ctx, auditOTPRequested, true, "", nil, func() map[string]string {
			return map[string]string{"type": string(typ)}
		})
		return code, nil
	}

	var le *otp.LimitError
	if errors.As(err, &le) {
		if errors.Is(le.Err, otp.ErrLockedOut) {
			e.metricInc(MetricOTPLockedOut)
			e.emitAudit(ctx, auditOTPLockedOut, false, "", ErrLockedOut, nil)
			return "", &LimitError{Err: ErrLockedOut, Scope: scopeOTPGenerate, RetryAfter: le.RetryAfter}
		}
		e.metricInc(MetricOTPCooldown)
		return "", &LimitError{Err: ErrCooldownActive, Scope: "otp:cooldown", RetryAfter: le.RetryAfter}
	}
	return "", otpErr(err)
}

// deliver hands code to the sender. Failures are logged, never returned,
// so delivery trouble cannot be told apart from an unknown address.
func (e *Engine) deliver(ctx context.Context, userID, email string, typ otp.Type, code string) {
	if e.sender == nil {
		return
	}
	if err := e.sender.Send(ctx, email, typ, code); err != nil {
		e.logger.Error("otp delivery failed", "user_id", userID, "type", string(typ), "error", err)
	}
}

func (e *Engine) verifyCode(ctx context.Context, email string, typ otp.Type, code string) error {
	if err := e.otp.Verify(ctx, email, typ, code); err != nil {
		return otpErr(err)
	}
	return nil
}

func otpErr(err error) error {
	switch {
	case errors.Is(err, otp.ErrExpired):
		return ErrOTPExpired
	case errors.Is(err, otp.ErrInvalid):
		return ErrOTPInvalid
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrOTPAttemptsExceeded
	case errors.Is(err, otp.ErrInvalidType):
		return ErrInvalidInput
	default:
		return storageErr(err)
	}
}
