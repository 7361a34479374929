package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

const (
	// ScopeLoginIP counts login attempts per client IP.
	ScopeLoginIP = "auth:login:ip"
	// ScopeLoginEmail counts login attempts per normalized email.
	ScopeLoginEmail = "auth:login:email"
)

// LoginConfig holds the two login throttles. A zero Limit disables that scope.
type LoginConfig struct {
	PerIP    rate.Policy
	PerEmail rate.Policy
}

// LoginLimiter enforces the login throttle across both identities. A request
// is denied when either identity is locked or over budget, and every identity
// that ran out of budget gets its own lockout.
type LoginLimiter struct {
	limiter *rate.Limiter
	config  LoginConfig
}

// NewLoginLimiter creates a login limiter on top of l.
func NewLoginLimiter(l *rate.Limiter, cfg LoginConfig) *LoginLimiter {
	return &LoginLimiter{limiter: l, config: cfg}
}

// Check counts one login attempt for email and ip.
func (l *LoginLimiter) Check(ctx context.Context, email, ip string) error {
	if l == nil || l.limiter == nil {
		return nil
	}

	checks := l.identities(email, ip)

	var longest time.Duration
	lockedScope := ""
	for _, c := range checks {
		remaining, locked, err := l.limiter.LockedOut(ctx, c.scope, c.key)
		if err != nil {
			return unavailable(err)
		}
		if locked && remaining > longest {
			longest = remaining
			lockedScope = c.scope
		}
	}
	if lockedScope != "" {
		return &Denied{Scope: lockedScope, RetryAfter: longest, Err: rate.ErrLockedOut}
	}

	// Both counters advance even when the first one already tripped, so a
	// sprayed email and a noisy IP are each locked on their own.
	var denied *Denied
	for _, c := range checks {
		allowed, err := l.limiter.AllowPolicy(ctx, c.scope, c.key, c.policy)
		if err != nil {
			return unavailable(err)
		}
		if allowed {
			continue
		}
		if err := l.limiter.Lockout(ctx, c.scope, c.key, c.policy.Lockout); err != nil {
			return unavailable(err)
		}
		wait := c.policy.Lockout
		if wait <= 0 {
			wait = c.policy.Window
		}
		if denied == nil || wait > denied.RetryAfter {
			denied = &Denied{Scope: c.scope, RetryAfter: wait, Err: rate.ErrRateLimited}
		}
	}
	if denied != nil {
		return denied
	}
	return nil
}

// Succeeded clears the per-email counter after a successful login. The IP
// counter keeps running.
func (l *LoginLimiter) Succeeded(ctx context.Context, email string) error {
	if l == nil || l.limiter == nil || l.config.PerEmail.Limit <= 0 || email == "" {
		return nil
	}
	if err := l.limiter.Reset(ctx, ScopeLoginEmail, email); err != nil {
		return unavailable(err)
	}
	return nil
}

type identityCheck struct {
	scope  string
	key    string
	policy rate.Policy
}

func (l *LoginLimiter) identities(email, ip string) []identityCheck {
	out := make([]identityCheck, 0, 2)
	if l.config.PerIP.Limit > 0 && ip != "" {
		out = append(out, identityCheck{scope: ScopeLoginIP, key: ip, policy: l.config.PerIP})
	}
	if l.config.PerEmail.Limit > 0 && email != "" {
		out = append(out, identityCheck{scope: ScopeLoginEmail, key: email, policy: l.config.PerEmail})
	}
	return out
}

// ErrLimiterUnavailable wraps backend failures from any limiter in this package.
var ErrLimiterUnavailable = errors.New("limiter backend unavailable")

func unavailable(err error) error {
	return errors.Join(ErrLimiterUnavailable, err)
}
