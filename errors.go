package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive means the account was deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrEmailNotVerified means a customer has not confirmed their email yet.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountExists is returned by registration for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by a [UserProvider] when no user matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidToken covers malformed, unknown and revoked tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired means the token is well formed but past its lifetime.
	ErrTokenExpired = errors.New("token expired")
	// ErrReuseDetected means a rotated refresh token came back and its
	// family was revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	ErrOTPExpired          = errors.New("otp expired or not found")
	ErrOTPInvalid          = errors.New("otp invalid")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrLockedOut           = errors.New("locked out")
	ErrRateLimited         = errors.New("rate limited")

	ErrPermissionDenied = errors.New("permission denied")
	ErrPasswordPolicy   = errors.New("password policy violation")
	ErrPasswordReuse    = errors.New("new password must differ from current password")
	ErrInvalidInput     = errors.New("invalid input")
	ErrOAuthFailed      = errors.New("oauth identity exchange failed")

	// ErrStorage wraps backend failures. Security decisions are never
	// downgraded to it: a request that cannot be checked is refused.
	ErrStorage = errors.New("storage unavailable")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Catalog guard errors are shared with the permission package so errors.Is
// works on errors returned from either side.
var (
	ErrSystemRoleImmutable = permission.ErrSystemRoleImmutable
	ErrRoleInUse           = permission.ErrRoleInUse
	ErrPermissionInUse     = permission.ErrPermissionInUse
)

// LimitError is returned whenever a throttle refuses a request. It unwraps to
// [ErrRateLimited], [ErrLockedOut] or [ErrCooldownActive].
type LimitError struct {
	Err        error
	Scope      string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %v (retry after %s)", e.Scope, e.Err, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

// RefreshRejectedError explains a failed refresh. Compromised is set when
// the family was revoked because of reuse; clients should then discard all
// local credentials and log in again.
type RefreshRejectedError struct {
	Err         error
	Compromised bool
	FamilyID    string
}

func (e *RefreshRejectedError) Error() string {
	if e.Compromised {
		return fmt.Sprintf("refresh rejected: %v (family revoked)", e.Err)
	}
	return fmt.Sprintf("refresh rejected: %v", e.Err)
}

func (e *RefreshRejectedError) Unwrap() error {
	return e.Err
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, "AUTH_001"},
	{ErrEmailNotVerified, "AUTH_002"},
	{ErrReuseDetected, "AUTH_006"},
	{ErrInvalidToken, "AUTH_004"},
	{ErrTokenExpired, "AUTH_005"},
	{ErrAccountInactive, "AUTH_007"},
	{ErrUserNotFound, "USER_001"},
	{ErrAccountExists, "USER_002"},
	{ErrOTPInvalid, "OTP_001"},
	{ErrOTPExpired, "OTP_002"},
	{ErrOTPAttemptsExceeded, "OTP_003"},
	{ErrCooldownActive, "OTP_004"},
	{ErrPermissionDenied, "PERM_001"},
	{permission.ErrForbidden, "PERM_001"},
	{permission.ErrNotFound, "PERM_002"},
	{permission.ErrUnknownPermission, "PERM_003"},
	{permission.ErrPermissionExists, "PERM_004"},
	{ErrPermissionInUse, "PERM_005"},
	{permission.ErrRoleExists, "ROLE_001"},
	{ErrSystemRoleImmutable, "ROLE_002"},
	{ErrRoleInUse, "ROLE_003"},
	{permission.ErrCustomerFixed, "ROLE_004"},
	{ErrPasswordPolicy, "VAL_003"},
	{ErrPasswordReuse, "VAL_003"},
	{ErrInvalidInput, "VAL_001"},
	{permission.ErrInvalidCode, "VAL_003"},
	{permission.ErrInvalidInput, "VAL_001"},
	{ErrRateLimited, "RATE_001"},
	{ErrOAuthFailed, "SRV_003"},
	{ErrStorage, "SRV_002"},
}

// ErrorCode maps err to the public error code clients receive. Lockouts
// report OTP_005 when they come from the OTP guard and AUTH_003 otherwise.
// Unknown errors map to SRV_001.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrLockedOut) {
		var le *LimitError
		if errors.As(err, &le) && le.Scope == scopeOTPGenerate {
			return "OTP_005"
		}
		return "AUTH_003"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "SRV_001"
}
