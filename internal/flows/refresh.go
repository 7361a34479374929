package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/ledger"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureStorage
	RefreshFailureAccount
	RefreshFailureIssue
)

// RefreshResult carries either the rotated session or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	UserID   string
	FamilyID string
	Session  *Session
}

// RefreshMetrics carries metric IDs used by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess       int
	RefreshFailure       int
	RefreshReuseDetected int
}

// RefreshEvents carries audit event names used by the refresh flow.
type RefreshEvents struct {
	RefreshSuccess string
	RefreshFailure string
	RefreshReuse   string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// Rotate exchanges the raw refresh token for its successor. Errors are
	// the ledger package's.
	Rotate       func(ctx context.Context, raw string) (ledger.Issued, error)
	RevokeFamily func(ctx context.Context, familyID string) error
	GetUserByID  func(context.Context, string) (User, error)
	// Mint builds the client session around an already stored token.
	Mint func(context.Context, User, ledger.Issued) (*Session, error)

	// UserNotFound is the host sentinel GetUserByID wraps for missing users.
	UserNotFound error

	Hooks
	Metrics RefreshMetrics
	Events  RefreshEvents
}

// RunRefresh rotates a refresh token and mints an access token from the
// user's current state, never from the previous token's claims.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	deps.Hooks.fill()

	issued, err := deps.Rotate(ctx, refreshToken)
	if err != nil {
		var reuse *ledger.ReuseError
		switch {
		case errors.As(err, &reuse):
			deps.MetricInc(deps.Metrics.RefreshReuseDetected)
			deps.MetricInc(deps.Metrics.RefreshFailure)
			deps.EmitAudit(ctx, deps.Events.RefreshReuse, false, reuse.UserID, err, func() map[string]string {
				return map[string]string{
					"family_id": reuse.FamilyID,
					"token_id":  reuse.TokenID,
				}
			})
			return RefreshResult{Failure: RefreshFailureReuse, Err: err, UserID: reuse.UserID, FamilyID: reuse.FamilyID}
		case errors.Is(err, ledger.ErrTokenExpired):
			deps.MetricInc(deps.Metrics.RefreshFailure)
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		case errors.Is(err, ledger.ErrInvalidToken), errors.Is(err, ledger.ErrNotFound):
			deps.MetricInc(deps.Metrics.RefreshFailure)
			deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, "", err, func() map[string]string {
				return map[string]string{"reason": "invalid"}
			})
			return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
		default:
			deps.MetricInc(deps.Metrics.RefreshFailure)
			return RefreshResult{Failure: RefreshFailureStorage, Err: err}
		}
	}

	tok := issued.Token
	user, err := deps.GetUserByID(ctx, tok.UserID)
	if err != nil && (deps.UserNotFound == nil || !errors.Is(err, deps.UserNotFound)) {
		// The successor is stored but never delivered; the client logs in again.
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureStorage, Err: err, UserID: tok.UserID, FamilyID: tok.FamilyID}
	}
	if err != nil || !user.Active {
		if err == nil {
			err = errors.New("account inactive")
		}
		if revokeErr := deps.RevokeFamily(ctx, tok.FamilyID); revokeErr != nil {
			deps.Warn("authcore: revoking family of unavailable account failed", "family_id", tok.FamilyID, "error", revokeErr)
		}
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, tok.UserID, err, func() map[string]string {
			return map[string]string{"reason": "account_unavailable", "family_id": tok.FamilyID}
		})
		return RefreshResult{Failure: RefreshFailureAccount, Err: err, UserID: tok.UserID, FamilyID: tok.FamilyID}
	}

	sess, err := deps.Mint(ctx, user, issued)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: user.ID, FamilyID: tok.FamilyID}
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.RefreshSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"family_id": tok.FamilyID}
	})
	return RefreshResult{UserID: user.ID, FamilyID: tok.FamilyID, Session: sess}
}
