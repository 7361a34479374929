package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard] or
// [RequirePermissions].
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Guard rejects requests without a valid, unrevoked bearer access token.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, authcore.ErrInvalidToken)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusCode maps an engine error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authcore.ErrInvalidInput),
		errors.Is(err, authcore.ErrPasswordPolicy),
		errors.Is(err, authcore.ErrPasswordReuse),
		errors.Is(err, authcore.ErrOTPInvalid),
		errors.Is(err, authcore.ErrOTPExpired),
		errors.Is(err, permission.ErrInvalidInput),
		errors.Is(err, permission.ErrInvalidCode),
		errors.Is(err, permission.ErrUnknownPermission):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrPermissionDenied),
		errors.Is(err, permission.ErrForbidden),
		errors.Is(err, authcore.ErrEmailNotVerified),
		errors.Is(err, authcore.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrAccountExists),
		errors.Is(err, authcore.ErrRoleInUse),
		errors.Is(err, authcore.ErrPermissionInUse),
		errors.Is(err, authcore.ErrSystemRoleImmutable),
		errors.Is(err, permission.ErrRoleExists),
		errors.Is(err, permission.ErrPermissionExists),
		errors.Is(err, permission.ErrCustomerFixed):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrUserNotFound),
		errors.Is(err, permission.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrRateLimited),
		errors.Is(err, authcore.ErrLockedOut),
		errors.Is(err, authcore.ErrCooldownActive),
		errors.Is(err, authcore.ErrOTPAttemptsExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrInvalidToken),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrReuseDetected):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrOAuthFailed):
		return http.StatusBadGateway
	case errors.Is(err, authcore.ErrStorage),
		errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as {"code","message"} with the matching status. A
// limit error also sets Retry-After. Messages never echo internal causes.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	var le *authcore.LimitError
	if errors.As(err, &le) && le.RetryAfter > 0 {
		secs := int(le.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:    authcore.ErrorCode(err),
		Message: http.StatusText(status),
	})
}
