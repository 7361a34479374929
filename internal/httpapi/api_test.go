package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/otp"
)

func TestHealthAndReadiness(t *testing.T) {
	ready := errors.New("db down")
	s := newServer(t, Options{Version: "test", Ready: func(context.Context) error { return ready }})

	if rec := s.do(t, call{method: http.MethodGet, path: "/healthz"}); rec.Code != http.StatusOK {
		t.Fatalf("healthz %d", rec.Code)
	}
	if rec := s.do(t, call{method: http.MethodGet, path: "/readyz"}); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing probe %d", rec.Code)
	}
	ready = nil
	if rec := s.do(t, call{method: http.MethodGet, path: "/readyz"}); rec.Code != http.StatusOK {
		t.Fatalf("readyz %d", rec.Code)
	}
}

func TestCustomerLifecycle(t *testing.T) {
	s := newServer(t, Options{})
	const email = "ann@example.com"
	creds := map[string]string{"email": email, "password": "correct-horse-1"}

	if rec := s.do(t, call{method: http.MethodPost, path: "/auth/register", body: creds}); rec.Code != http.StatusCreated {
		t.Fatalf("register %d", rec.Code)
	}
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: creds})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "AUTH_002" {
		t.Fatalf("unverified login %d", rec.Code)
	}

	code := s.sender.code(t, email, otp.EmailVerification)
	verify := map[string]string{"email": email, "code": code}
	if rec := s.do(t, call{method: http.MethodPost, path: "/auth/verify-email", body: verify}); rec.Code != http.StatusNoContent {
		t.Fatalf("verify %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/login", body: creds})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %d", rec.Code)
	}
	first := refreshCookie(t, rec)
	var tokens tokenResponse
	decode(t, rec, &tokens)
	if tokens.AccessToken == "" || tokens.TokenType != "Bearer" || tokens.Kind != "customer" {
		t.Fatalf("token response %+v", tokens)
	}

	if rec := s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: tokens.AccessToken}); rec.Code != http.StatusOK {
		t.Fatalf("me %d", rec.Code)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookie: first})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh %d", rec.Code)
	}
	second := refreshCookie(t, rec)
	if second.Value == first.Value {
		t.Fatal("refresh did not rotate the token")
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookie: first})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "AUTH_006" {
		t.Fatalf("replayed refresh %d", rec.Code)
	}
	if rec := s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookie: second}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("family survived reuse: %d", rec.Code)
	}
}

func TestLogoutRevokesRefreshCookieAndAccessToken(t *testing.T) {
	s := newServer(t, Options{})
	s.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	b := newBrowser(t, s)

	resp := b.post(t, "/auth/login", "", map[string]string{"email": "root@example.com", "password": "correct-horse-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %d", resp.StatusCode)
	}
	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	held := b.cookie(middleware.RefreshCookiePath)
	if held == nil {
		t.Fatal("jar holds no refresh cookie after login")
	}
	if b.cookie(middleware.LogoutPath) == nil {
		t.Fatalf("refresh cookie is not sent to %s", middleware.LogoutPath)
	}

	if resp := b.post(t, middleware.LogoutPath, tokens.AccessToken, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout %d", resp.StatusCode)
	}
	if b.cookie(middleware.RefreshCookiePath) != nil {
		t.Fatal("logout left the refresh cookie in place")
	}
	if rec := s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: tokens.AccessToken}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token usable after logout: %d", rec.Code)
	}
	// A copy of the cookie taken before logout must be dead server-side.
	stolen := &http.Cookie{Name: held.Name, Value: held.Value}
	if rec := s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookie: stolen}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token usable after logout: %d", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	s := newServer(t, Options{})
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: `{"email":"a@b.co","password":"x","admin":true}`})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VAL_001" {
		t.Fatalf("unknown field accepted: %d", rec.Code)
	}
	rec = s.do(t, call{method: http.MethodPost, path: "/auth/login"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body accepted: %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s := newServer(t, Options{Metrics: metrics, MetricsPath: "/internal/metrics"})
	if rec := s.do(t, call{method: http.MethodGet, path: "/internal/metrics"}); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("metrics route %d %q", rec.Code, rec.Body.String())
	}
}
