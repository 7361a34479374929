package flows

import (
	"context"
	"errors"
)

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	RateLimitHit     int
	SessionCreated   int
	PasswordRehashed int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountInactive    error
	EmailNotVerified   error
	UserNotFound       error
	Storage            error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	UpgradeOnLogin bool

	ClientIPFromContext func(context.Context) string

	CheckLoginRate func(ctx context.Context, email, ip string) error
	LoginSucceeded func(ctx context.Context, email string) error

	GetUserByEmail     func(context.Context, string) (User, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error

	VerifyPassword       func(plain, hash string) (bool, error)
	VerifyDummy          func(plain string)
	PasswordNeedsUpgrade func(hash string) bool
	HashPassword         func(string) (string, error)

	StartSession func(context.Context, User) (*Session, error)

	Hooks
	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates email/password and starts a new token family.
//
// Unknown emails, wrong passwords and unusable stored hashes all return
// InvalidCredentials after comparable work. Account state is only reported
// to callers who proved the password.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*Session, error) {
	deps.Hooks.fill()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.VerifyDummy == nil {
		deps.VerifyDummy = func(string) {}
	}
	if deps.GetUserByEmail == nil || deps.VerifyPassword == nil || deps.StartSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	identifier := func() map[string]string {
		return map[string]string{"email": email}
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, email, ip); err != nil {
			if errors.Is(err, deps.Errors.Storage) {
				return nil, err
			}
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.MetricInc(deps.Metrics.RateLimitHit)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", err, identifier)
			return nil, err
		}
	}

	fail := func(userID, reason string, err error) (*Session, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, err, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": reason,
			}
		})
		return nil, err
	}

	if password == "" {
		deps.VerifyDummy(password)
		return fail("", "empty_password", deps.Errors.InvalidCredentials)
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.VerifyDummy(password)
			return fail("", "user_not_found", deps.Errors.InvalidCredentials)
		}
		return nil, err
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		deps.Warn("authcore: stored password hash unusable", "user_id", user.ID, "error", err)
		return fail(user.ID, "hash_unusable", deps.Errors.InvalidCredentials)
	}
	if !ok {
		return fail(user.ID, "wrong_password", deps.Errors.InvalidCredentials)
	}

	if !user.Active {
		return fail(user.ID, "inactive", deps.Errors.AccountInactive)
	}
	if user.Kind == KindCustomer && !user.Verified {
		return fail(user.ID, "unverified", deps.Errors.EmailNotVerified)
	}

	if deps.LoginSucceeded != nil {
		if err := deps.LoginSucceeded(ctx, email); err != nil {
			deps.Warn("authcore: login counter reset failed", "error", err)
		}
	}

	if deps.UpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil &&
		deps.PasswordNeedsUpgrade(user.PasswordHash) {
		if upgraded, err := deps.HashPassword(password); err != nil {
			deps.Warn("authcore: password rehash failed", "user_id", user.ID, "error", err)
		} else if err := deps.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
			deps.Warn("authcore: password rehash store failed", "user_id", user.ID, "error", err)
		} else {
			deps.MetricInc(deps.Metrics.PasswordRehashed)
		}
	}

	sess, err := deps.StartSession(ctx, user)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.ID, err, func() map[string]string {
			return map[string]string{"reason": "session_issue_failed"}
		})
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"family_id": sess.FamilyID}
	})
	return sess, nil
}
