package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/permission"
)

// ValidateAccess verifies an access token's signature and expiry and
// rejects tokens blacklisted by [Engine.Logout]. It never touches the
// permission store.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	claims, err := flows.RunValidate(ctx, accessToken, e.flows.Validate)
	if err != nil {
		return nil, validateErr(err)
	}
	return authResult(claims), nil
}

// Authorize validates accessToken and requires every one of codes.
//
// Customers are checked against the fixed customer set. Admins are checked
// against the token's claims, or against the resolver when
// Permission.RecheckOnAuthorize is set so that revocations apply before the
// token expires.
func (e *Engine) Authorize(ctx context.Context, accessToken string, codes ...string) (*AuthResult, error) {
	result, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var allowed bool
	switch {
	case result.Kind == KindCustomer:
		allowed = permission.NewSet(permission.CustomerPermissions...).HasAll(codes...)
	case e.config.Permission.RecheckOnAuthorize:
		allowed, err = e.resolver.RequirePermissions(ctx, result.UserID, codes...)
		if errors.Is(err, permission.ErrNotAdmin) {
			allowed, err = false, nil
		}
		if err != nil {
			return nil, storageErr(err)
		}
	default:
		allowed = permission.NewSet(result.Permissions...).HasAll(codes...)
	}

	if !allowed {
		e.metricInc(MetricPermissionDenied)
		return nil, ErrPermissionDenied
	}
	return result, nil
}

func authResult(claims *jwt.AccessClaims) *AuthResult {
	res := &AuthResult{
		UserID:      claims.Subject,
		Role:        claims.Role,
		Kind:        RoleKind(claims.Kind),
		FamilyID:    claims.FamilyID,
		TokenID:     claims.ID,
		Permissions: append([]string(nil), claims.Perms...),
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res
}

func validateErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrInvalid), errors.Is(err, ErrInvalidToken):
		return ErrInvalidToken
	default:
		return storageErr(err)
	}
}
