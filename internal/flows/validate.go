package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/jwt"
)

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	Parse       func(string) (*jwt.AccessClaims, error)
	Blacklisted func(ctx context.Context, tokenID string) (bool, error)
	Now         func() time.Time
	Observe     func(time.Duration)

	MetricInc func(int)

	MetricBlacklisted int
	Revoked           error
}

// RunValidate verifies signature and expiry, then consults the logout
// blacklist. A blacklist that cannot be read fails the request.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) (*jwt.AccessClaims, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	start := deps.Now()
	if deps.Observe != nil {
		defer func() { deps.Observe(deps.Now().Sub(start)) }()
	}

	claims, err := deps.Parse(token)
	if err != nil {
		return nil, err
	}

	if deps.Blacklisted != nil {
		revoked, err := deps.Blacklisted(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			deps.MetricInc(deps.MetricBlacklisted)
			return nil, deps.Revoked
		}
	}
	return claims, nil
}
