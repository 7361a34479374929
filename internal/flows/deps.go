package flows

import (
	"context"
	"time"
)

// KindCustomer is the user kind whose email must be verified before login.
const KindCustomer = "customer"

// User is the flow-local account model.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	Verified     bool
	Kind         string
}

// Session is a freshly issued access/refresh pair.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	FamilyID         string
	Role             string
	Kind             string
	Permissions      []string
}

// Hooks carries the engine's metric and audit callbacks. Nil hooks are
// replaced with no-ops.
type Hooks struct {
	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)
	Warn      func(string, ...any)
}

func (h *Hooks) fill() {
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if h.Warn == nil {
		h.Warn = func(string, ...any) {}
	}
}

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Validate ValidateDeps
	Logout   LogoutDeps
	Password PasswordDeps
}
