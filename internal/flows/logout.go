package flows

import (
	"context"
	"time"
)

// LogoutMetrics carries metric IDs used by the logout flows.
type LogoutMetrics struct {
	Logout    int
	LogoutAll int
}

// LogoutEvents carries audit event names used by the logout flows.
type LogoutEvents struct {
	Logout    string
	LogoutAll string
}

// AccessTokenInfo is what logout needs from a presented access token.
type AccessTokenInfo struct {
	TokenID   string
	UserID    string
	Remaining time.Duration
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	// RevokeRefresh revokes the single presented refresh token and reports
	// whether an active token matched.
	RevokeRefresh    func(ctx context.Context, raw string) (bool, error)
	RevokeAllForUser func(ctx context.Context, userID string) (int64, error)
	// InspectAccess parses an access token for blacklisting. Expired or
	// invalid tokens need no blacklist entry and return ok=false.
	InspectAccess func(token string) (AccessTokenInfo, bool)
	Blacklist     func(ctx context.Context, tokenID string, ttl time.Duration) error

	Hooks
	Metrics LogoutMetrics
	Events  LogoutEvents
}

// RunLogout ends one session: the presented refresh token is revoked (not
// its family) and the access token, when given and still live, is
// blacklisted for the rest of its lifetime. Unknown refresh tokens are not
// an error; the client discards its credentials either way.
func RunLogout(ctx context.Context, refreshToken, accessToken string, deps LogoutDeps) error {
	deps.Hooks.fill()

	userID := ""
	if accessToken != "" && deps.InspectAccess != nil && deps.Blacklist != nil {
		if info, ok := deps.InspectAccess(accessToken); ok {
			userID = info.UserID
			if info.Remaining > 0 {
				if err := deps.Blacklist(ctx, info.TokenID, info.Remaining); err != nil {
					return err
				}
			}
		}
	}

	revoked := false
	if refreshToken != "" && deps.RevokeRefresh != nil {
		ok, err := deps.RevokeRefresh(ctx, refreshToken)
		if err != nil {
			return err
		}
		revoked = ok
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, userID, nil, func() map[string]string {
		if revoked {
			return map[string]string{"refresh_revoked": "true"}
		}
		return map[string]string{"refresh_revoked": "false"}
	})
	return nil
}

// RunLogoutAll revokes every token family of userID.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) (int64, error) {
	deps.Hooks.fill()

	n, err := deps.RevokeAllForUser(ctx, userID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.LogoutAll, false, userID, err, nil)
		return 0, err
	}
	deps.MetricInc(deps.Metrics.LogoutAll)
	deps.EmitAudit(ctx, deps.Events.LogoutAll, true, userID, nil, nil)
	return n, nil
}
