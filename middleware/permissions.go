package middleware

import (
	"context"
	"net/http"

	authcore "github.com/MrEthical07/authcore"
)

// RequirePermissions rejects requests whose bearer token does not carry
// every code. With Permission.RecheckOnAuthorize the engine consults the
// resolver instead of the token, so revocations apply immediately.
func RequirePermissions(engine *authcore.Engine, codes ...string) func(http.Handler) http.Handler {
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

			res, err := engine.Authorize(r.Context(), token, codes...)
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind rejects authenticated requests from the other account kind.
// It must run after [Guard] or [RequirePermissions].
func RequireKind(kind authcore.RoleKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrInvalidToken)
				return
			}
			if res.Kind != kind {
				WriteError(w, authcore.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
