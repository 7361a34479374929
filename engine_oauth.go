package authcore

import (
	"context"
	"errors"
	"fmt"
)

// LoginWithOAuth exchanges a provider authorization code for an identity and
// starts a session for the matching account. Unknown, provider-verified
// emails get a new verified customer account without a password.
//
// Identities whose email the provider has not verified are refused, so a
// provider account cannot claim someone else's address.
func (e *Engine) LoginWithOAuth(ctx context.Context, provider, code string) (*TokenPair, error) {
	if e.exchanger == nil {
		return nil, ErrEngineNotReady
	}
	if provider == "" || code == "" {
		return nil, ErrInvalidInput
	}

	ident, err := e.exchanger.Exchange(ctx, provider, code)
	if err != nil {
		e.emitAudit(ctx, auditOAuthLogin, false, "", ErrOAuthFailed, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return nil, fmt.Errorf("%w: %v", ErrOAuthFailed, err)
	}
	email := normalizeEmail(ident.Email)
	if !ident.EmailVerified || !validEmail(email) {
		return nil, fmt.Errorf("%w: provider email not verified", ErrOAuthFailed)
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = e.userProvider.CreateUser(ctx, CreateUserInput{
			Email:      email,
			Kind:       KindCustomer,
			IsVerified: true,
		})
		if err != nil {
			return nil, userErr(err)
		}
		e.metricInc(MetricAccountCreated)
	case err != nil:
		return nil, storageErr(err)
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	if !user.IsVerified {
		// The provider vouched for the address.
		if err := e.userProvider.MarkVerified(ctx, user.UserID); err != nil {
			return nil, storageErr(err)
		}
		user.IsVerified = true
	}

	sess, err := e.startSession(ctx, toFlowUser(user))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOAuthLogin)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditOAuthLogin, true, user.UserID, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return tokenPair(sess), nil
}
