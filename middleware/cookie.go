package middleware

import (
	"net/http"
	"time"
)

const (
	// RefreshCookieName carries the opaque refresh token.
	RefreshCookieName = "refresh_token"
	// RefreshCookiePath limits the cookie to the refresh endpoint and the
	// routes below it. Logout must live under this path to see the token.
	RefreshCookiePath = "/auth/refresh"
	// LogoutPath is the logout route inside RefreshCookiePath.
	LogoutPath = RefreshCookiePath + "/logout"
	// RefreshCookieMaxAge matches the refresh token lifetime.
	RefreshCookieMaxAge = 7 * 24 * time.Hour
)

// SetRefreshCookie stores token in an HttpOnly, Secure, SameSite=Lax cookie
// that is only sent to the refresh and logout endpoints.
func SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     RefreshCookiePath,
		MaxAge:   int(RefreshCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefreshCookie expires the refresh cookie on logout.
func ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// RefreshTokenFromRequest reads the refresh cookie.
func RefreshTokenFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
