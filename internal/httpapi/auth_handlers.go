package httpapi

import (
	"errors"
	"net/http"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/otp"
)

func (a *API) registerAuthRoutes() {
	a.mux.HandleFunc("POST /auth/register", a.register)
	a.mux.HandleFunc("POST /auth/login", a.login)
	a.mux.HandleFunc("POST /auth/refresh", a.refresh)
	a.mux.HandleFunc("POST "+middleware.LogoutPath, a.logout)
	a.mux.HandleFunc("POST /auth/otp", a.requestOTP)
	a.mux.HandleFunc("POST /auth/verify-email", a.verifyEmail)
	a.mux.HandleFunc("POST /auth/reset-password", a.resetPassword)
	a.mux.HandleFunc("POST /auth/oauth/{provider}", a.oauthLogin)

	guard := middleware.Guard(a.engine)
	a.mux.Handle("POST /auth/logout-all", guard(http.HandlerFunc(a.logoutAll)))
	a.mux.Handle("POST /auth/change-password", guard(http.HandlerFunc(a.changePassword)))
	a.mux.Handle("GET /auth/me", guard(http.HandlerFunc(a.me)))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role,omitempty"`
	Kind        string    `json:"kind"`
	Permissions []string  `json:"permissions"`
}

// writeTokens returns the access token in the body and the refresh token
// only as a cookie.
func writeTokens(w http.ResponseWriter, pair *authcore.TokenPair) {
	middleware.SetRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:   pair.AccessExpiresAt.UTC(),
		UserID:      pair.UserID,
		Role:        pair.Role,
		Kind:        string(pair.Kind),
		Permissions: pair.Permissions,
	})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.engine.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.UserID,
		"email":    user.Email,
		"verified": user.IsVerified,
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pair, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeTokens(w, pair)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.RefreshTokenFromRequest(r)
	if !ok {
		middleware.ClearRefreshCookie(w)
		a.fail(w, r, authcore.ErrInvalidToken)
		return
	}
	pair, err := a.engine.Refresh(r.Context(), token)
	if err != nil {
		var rejected *authcore.RefreshRejectedError
		if errors.As(err, &rejected) || errors.Is(err, authcore.ErrInvalidToken) || errors.Is(err, authcore.ErrTokenExpired) {
			middleware.ClearRefreshCookie(w)
		}
		a.fail(w, r, err)
		return
	}
	writeTokens(w, pair)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	refresh, _ := middleware.RefreshTokenFromRequest(r)
	access, _ := middleware.BearerToken(r)
	if err := a.engine.Logout(r.Context(), refresh, access); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := a.engine.LogoutAll(r.Context(), res.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     res.UserID,
		"role":        res.Role,
		"kind":        res.Kind,
		"permissions": res.Permissions,
		"expires_at":  res.ExpiresAt.UTC(),
	})
}

type otpRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

func (a *API) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.RequestOTP(r.Context(), req.Email, otp.Type(req.Type)); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := a.engine.ChangePassword(r.Context(), res.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type oauthRequest struct {
	Code string `json:"code"`
}

func (a *API) oauthLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	pair, err := a.engine.LoginWithOAuth(r.Context(), r.PathValue("provider"), req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeTokens(w, pair)
}
