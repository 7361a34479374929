package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"golang.org/x/text/unicode/norm"
)

// scopeOTPGenerate is the limiter scope reported by OTP request throttling.
const scopeOTPGenerate = "otp:generate"

// Engine is the authentication core. It is safe for concurrent use; build
// one with [New] and share it.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	userProvider UserProvider
	sender       Sender
	exchanger    IdentityExchanger

	ledger    *ledger.Ledger
	jwt       *jwt.Manager
	hasher    *password.Hasher
	blacklist *stores.Blacklist

	permStore permission.Store
	resolver  *permission.Resolver
	roles     *permission.Service

	otp          *otp.Guard
	rate         *rate.Limiter
	loginLimiter *limiters.LoginLimiter
	endpoints    *limiters.EndpointLimiter

	audit   *audit.Dispatcher
	metrics *Metrics
	flows   flows.Deps

	stopSweeper context.CancelFunc
}

// Close stops the ledger sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopSweeper != nil {
		e.stopSweeper()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Resolver exposes the permission resolver for request-time checks.
func (e *Engine) Resolver() *permission.Resolver {
	return e.resolver
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates email and password and starts a new token family.
//
// Unknown emails and wrong passwords both return [ErrInvalidCredentials].
// Throttled requests return a [*LimitError]. The caller's IP is taken from
// ctx (see [WithClientIP]).
func (e *Engine) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	sess, err := flows.RunLogin(ctx, normalizeEmail(email), password, e.flows.Login)
	if err != nil {
		return nil, err
	}
	return tokenPair(sess), nil
}

// Refresh rotates refreshToken and returns a new pair. Presenting a token
// that was already rotated revokes its whole family and returns a
// [*RefreshRejectedError] with Compromised set.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	switch res.Failure {
	case flows.RefreshFailureNone:
		return tokenPair(res.Session), nil
	case flows.RefreshFailureReuse:
		e.logger.Warn("refresh token reuse detected", "user_id", res.UserID, "family_id", res.FamilyID)
		return nil, &RefreshRejectedError{Err: ErrReuseDetected, Compromised: true, FamilyID: res.FamilyID}
	case flows.RefreshFailureExpired:
		return nil, &RefreshRejectedError{Err: ErrTokenExpired}
	case flows.RefreshFailureInvalid:
		return nil, &RefreshRejectedError{Err: ErrInvalidToken}
	case flows.RefreshFailureAccount:
		return nil, &RefreshRejectedError{Err: ErrAccountInactive, FamilyID: res.FamilyID}
	default:
		return nil, storageErr(res.Err)
	}
}

// Logout revokes the presented refresh token (not its family) and
// blacklists accessToken, when given, until it would have expired anyway.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if err := flows.RunLogout(ctx, refreshToken, accessToken, e.flows.Logout); err != nil {
		return storageErr(err)
	}
	return nil
}

// LogoutAll revokes every token family of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	if _, err := flows.RunLogoutAll(ctx, userID, e.flows.Logout); err != nil {
		return storageErr(err)
	}
	return nil
}

// Allow counts one request for key under scope against a fixed window. It
// exposes the limiter for callers throttling their own endpoints.
func (e *Engine) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (bool, error) {
	ok, err := e.rate.Allow(ctx, scope, key, limit, window)
	if err != nil {
		if errors.Is(err, rate.ErrInvalidPolicy) {
			return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return false, storageErr(err)
	}
	if !ok {
		e.metricInc(MetricRateLimitHit)
	}
	return ok, nil
}

func (e *Engine) startSession(ctx context.Context, user flows.User) (*flows.Session, error) {
	issued, err := e.ledger.Issue(ctx, user.ID, "")
	if err != nil {
		return nil, storageErr(err)
	}
	return e.mint(ctx, user, issued)
}

// mint wraps an already stored refresh token with an access token built
// from the user's current role and permissions.
func (e *Engine) mint(ctx context.Context, user flows.User, issued ledger.Issued) (*flows.Session, error) {
	role, perms, err := e.permissionsFor(ctx, user.ID, RoleKind(user.Kind))
	if err != nil {
		return nil, err
	}
	access, claims, err := e.jwt.CreateAccess(jwt.Subject{
		UserID:   user.ID,
		Role:     role,
		Kind:     user.Kind,
		Perms:    perms,
		FamilyID: issued.Token.FamilyID,
	})
	if err != nil {
		return nil, err
	}
	return &flows.Session{
		AccessToken:      access,
		RefreshToken:     issued.Secret,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: issued.Token.ExpiresAt,
		UserID:           user.ID,
		FamilyID:         issued.Token.FamilyID,
		Role:             role,
		Kind:             user.Kind,
		Permissions:      perms,
	}, nil
}

// permissionsFor returns the role name and effective codes for a user.
// Admins without a role binding get an empty set.
func (e *Engine) permissionsFor(ctx context.Context, userID string, kind RoleKind) (string, []string, error) {
	if kind == KindCustomer {
		return permission.Customer, append([]string(nil), permission.CustomerPermissions...), nil
	}
	set, err := e.resolver.EffectivePermissions(ctx, userID)
	if errors.Is(err, permission.ErrNotAdmin) {
		return "", []string{}, nil
	}
	if err != nil {
		return "", nil, storageErr(err)
	}
	binding, err := e.permStore.GetBinding(ctx, userID)
	if err != nil {
		return "", nil, storageErr(err)
	}
	role, err := e.permStore.GetRole(ctx, binding.RoleID)
	if err != nil {
		return "", nil, storageErr(err)
	}
	return role.Name, set.Codes(), nil
}

func (e *Engine) lookupByEmail(ctx context.Context, email string) (flows.User, error) {
	u, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		return flows.User{}, userErr(err)
	}
	return toFlowUser(u), nil
}

func (e *Engine) lookupByID(ctx context.Context, userID string) (flows.User, error) {
	u, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return flows.User{}, userErr(err)
	}
	return toFlowUser(u), nil
}

func (e *Engine) checkLoginRate(ctx context.Context, email, ip string) error {
	if err := e.loginLimiter.Check(ctx, email, ip); err != nil {
		return limitErr(err)
	}
	return nil
}

func (e *Engine) checkEndpoint(ctx context.Context, scope, key string) error {
	if err := e.endpoints.Check(ctx, scope, key); err != nil {
		e.metricInc(MetricRateLimitHit)
		return limitErr(err)
	}
	return nil
}

func (e *Engine) checkPolicy(plain string) error {
	if err := e.hasher.CheckPolicy(plain); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if len(plain) > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password longer than %d bytes", ErrPasswordPolicy, e.config.Password.MaxLength)
	}
	return nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	hooks := flows.Hooks{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		Warn:      func(msg string, args ...any) { e.logger.Warn(msg, args...) },
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
			ClientIPFromContext: clientIPFromContext,
			CheckLoginRate:      e.checkLoginRate,
			LoginSucceeded:      e.loginLimiter.Succeeded,
			GetUserByEmail:      e.lookupByEmail,
			UpdatePasswordHash:  e.userProvider.UpdatePasswordHash,
			VerifyPassword:      e.hasher.Verify,
			VerifyDummy:         e.hasher.VerifyDummy,
			PasswordNeedsUpgrade: func(hash string) bool {
				upgrade, err := e.hasher.NeedsUpgrade(hash)
				return err == nil && upgrade
			},
			HashPassword: e.hasher.Hash,
			StartSession: e.startSession,
			Hooks:        hooks,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				RateLimitHit:     int(MetricRateLimitHit),
				SessionCreated:   int(MetricSessionCreated),
				PasswordRehashed: int(MetricPasswordRehashed),
			},
			Events: flows.LoginEvents{
				LoginSuccess:     auditLoginSuccess,
				LoginFailure:     auditLoginFailure,
				LoginRateLimited: auditLoginRateLimited,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				AccountInactive:    ErrAccountInactive,
				EmailNotVerified:   ErrEmailNotVerified,
				UserNotFound:       ErrUserNotFound,
				Storage:            ErrStorage,
			},
		},
		Refresh: flows.RefreshDeps{
			Rotate: func(ctx context.Context, raw string) (ledger.Issued, error) {
				if !internal.ValidOpaqueToken(raw) {
					return ledger.Issued{}, ledger.ErrInvalidToken
				}
				return e.ledger.Rotate(ctx, ledger.HashToken(raw))
			},
			RevokeFamily: func(ctx context.Context, familyID string) error {
				_, err := e.ledger.RevokeFamily(ctx, familyID)
				return err
			},
			GetUserByID:  e.lookupByID,
			Mint:         e.mint,
			UserNotFound: ErrUserNotFound,
			Hooks:        hooks,
			Metrics: flows.RefreshMetrics{
				RefreshSuccess:       int(MetricRefreshSuccess),
				RefreshFailure:       int(MetricRefreshFailure),
				RefreshReuseDetected: int(MetricRefreshReuseDetected),
			},
			Events: flows.RefreshEvents{
				RefreshSuccess: auditRefreshSuccess,
				RefreshFailure: auditRefreshFailure,
				RefreshReuse:   auditRefreshReuse,
			},
		},
		Validate: flows.ValidateDeps{
			Parse:       e.jwt.ParseAccess,
			Blacklisted: e.blacklist.Contains,
			Now:         e.now,
			Observe: func(d time.Duration) {
				e.metrics.Observe(MetricValidateLatency, d)
			},
			MetricInc:         func(id int) { e.metricInc(MetricID(id)) },
			MetricBlacklisted: int(MetricAccessBlacklisted),
			Revoked:           ErrInvalidToken,
		},
		Logout: flows.LogoutDeps{
			RevokeRefresh: func(ctx context.Context, raw string) (bool, error) {
				if !internal.ValidOpaqueToken(raw) {
					return false, nil
				}
				return e.ledger.Revoke(ctx, ledger.HashToken(raw))
			},
			RevokeAllForUser: e.ledger.RevokeAllForUser,
			InspectAccess: func(token string) (flows.AccessTokenInfo, bool) {
				claims, err := e.jwt.ParseAccess(token)
				if err != nil {
					return flows.AccessTokenInfo{}, false
				}
				return flows.AccessTokenInfo{
					TokenID:   claims.ID,
					UserID:    claims.Subject,
					Remaining: e.jwt.Remaining(claims),
				}, true
			},
			Blacklist: e.blacklist.Add,
			Hooks:     hooks,
			Metrics: flows.LogoutMetrics{
				Logout:    int(MetricLogout),
				LogoutAll: int(MetricLogoutAll),
			},
			Events: flows.LogoutEvents{
				Logout:    auditLogout,
				LogoutAll: auditLogoutAll,
			},
		},
		Password: flows.PasswordDeps{
			CheckResetRate: func(ctx context.Context, email string) error {
				return e.checkEndpoint(ctx, limiters.ScopeResetPassword, email)
			},
			CheckChangeRate: func(ctx context.Context, userID string) error {
				return e.checkEndpoint(ctx, limiters.ScopeChangePassword, userID)
			},
			CheckPolicy: e.checkPolicy,
			VerifyResetCode: func(ctx context.Context, email, code string) error {
				return e.verifyCode(ctx, email, otp.PasswordReset, code)
			},
			GetUserByEmail:     e.lookupByEmail,
			GetUserByID:        e.lookupByID,
			UpdatePasswordHash: e.userProvider.UpdatePasswordHash,
			VerifyPassword:     e.hasher.Verify,
			HashPassword:       e.hasher.Hash,
			RevokeAllForUser:   e.ledger.RevokeAllForUser,
			Hooks:              hooks,
			Metrics: flows.PasswordMetrics{
				ResetSuccess:     int(MetricPasswordResetSuccess),
				ChangeSuccess:    int(MetricPasswordChangeSuccess),
				ChangeInvalidOld: int(MetricPasswordChangeInvalidOld),
				OTPFailed:        int(MetricOTPFailed),
				OTPVerified:      int(MetricOTPVerified),
			},
			Events: flows.PasswordEvents{
				Reset:   auditPasswordReset,
				Changed: auditPasswordChanged,
			},
			Errors: flows.PasswordErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				PasswordReuse:      ErrPasswordReuse,
				OTPInvalid:         ErrOTPInvalid,
				UserNotFound:       ErrUserNotFound,
			},
		},
	}
}

func tokenPair(s *flows.Session) *TokenPair {
	if s == nil {
		return nil
	}
	return &TokenPair{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		UserID:           s.UserID,
		Role:             s.Role,
		Kind:             RoleKind(s.Kind),
		Permissions:      s.Permissions,
	}
}

func toFlowUser(u UserRecord) flows.User {
	return flows.User{
		ID:           u.UserID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Active:       u.IsActive,
		Verified:     u.IsVerified,
		Kind:         string(u.Kind),
	}
}

// normalizeEmail folds compatibility forms, trims and lowercases, so one
// mailbox maps to one OTP record, one counter and one account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func limitErr(err error) error {
	var denied *limiters.Denied
	if errors.As(err, &denied) {
		sentinel := ErrRateLimited
		if errors.Is(denied.Err, rate.ErrLockedOut) {
			sentinel = ErrLockedOut
		}
		return &LimitError{Err: sentinel, Scope: denied.Scope, RetryAfter: denied.RetryAfter}
	}
	return storageErr(err)
}

func userErr(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrAccountExists):
		return err
	default:
		return storageErr(err)
	}
}

// storageErr wraps backend failures in ErrStorage, leaving cancellations
// and errors that already carry a public code untouched.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if ErrorCode(err) != "SRV_001" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
