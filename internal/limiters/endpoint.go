package limiters

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/rate"
)

// Endpoint scopes throttled per identity, named after the public routes they guard.
const (
	ScopeRegister       = "auth:register"
	ScopeVerifyEmail    = "auth:verify_email"
	ScopeResendOTP      = "auth:resend_otp"
	ScopeResetPassword  = "auth:reset_password"
	ScopeChangePassword = "auth:change_password"
)

// EndpointLimiter applies one policy per scope. Scopes without a policy pass.
type EndpointLimiter struct {
	limiter  *rate.Limiter
	policies map[string]rate.Policy
}

// NewEndpointLimiter creates an endpoint limiter. The policies map is copied.
func NewEndpointLimiter(l *rate.Limiter, policies map[string]rate.Policy) *EndpointLimiter {
	copied := make(map[string]rate.Policy, len(policies))
	for scope, p := range policies {
		copied[scope] = p
	}
	return &EndpointLimiter{limiter: l, policies: copied}
}

// Check counts one request for key under scope.
func (l *EndpointLimiter) Check(ctx context.Context, scope, key string) error {
	if l == nil || l.limiter == nil || key == "" {
		return nil
	}
	p, ok := l.policies[scope]
	if !ok || p.Limit <= 0 {
		return nil
	}

	wait, err := l.limiter.Gate(ctx, scope, key, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited), errors.Is(err, rate.ErrLockedOut):
		return &Denied{Scope: scope, RetryAfter: wait, Err: err}
	default:
		return unavailable(err)
	}
}
