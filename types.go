package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/otp"
)

// RoleKind separates staff accounts, whose permissions come from roles and
// overrides, from customers, who always carry a fixed permission set.
type RoleKind string

const (
	KindAdmin    RoleKind = "admin"
	KindCustomer RoleKind = "customer"
)

// Valid reports whether k is a known kind.
func (k RoleKind) Valid() bool {
	return k == KindAdmin || k == KindCustomer
}

// UserRecord is the account as seen by the engine. Users are never deleted;
// deactivation clears IsActive. An admin's role binding lives in the
// permission store, not here.
type UserRecord struct {
	UserID       string
	Email        string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	Kind         RoleKind
	CreatedAt    time.Time
}

// CreateUserInput is passed to [UserProvider.CreateUser]. PasswordHash is
// empty for accounts created through an external identity. Created accounts
// are active.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Kind         RoleKind
	IsVerified   bool
}

// UserProvider is the account store the engine authenticates against.
//
// Lookups return an error wrapping [ErrUserNotFound] when no user matches,
// and CreateUser returns one wrapping [ErrAccountExists] for a taken email.
// Emails reach the provider already normalized.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkVerified(ctx context.Context, userID string) error
}

// TokenPair is what a successful login or refresh returns to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	UserID      string
	Role        string
	Kind        RoleKind
	Permissions []string
}

// AuthResult describes a validated access token.
type AuthResult struct {
	UserID   string
	Role     string
	Kind     RoleKind
	FamilyID string
	TokenID  string

	// Permissions are the codes embedded at issuance; ["*"] for super admins.
	Permissions []string
	ExpiresAt   time.Time
}

// Sender delivers one-time codes. Delivery runs on the request path; wrap a
// slow transport in notify.Async.
type Sender interface {
	Send(ctx context.Context, email string, typ otp.Type, code string) error
}

// ExternalIdentity is the result of an OAuth code exchange.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// IdentityExchanger turns a provider authorization code into an identity.
// Talking to the provider is the exchanger's business.
type IdentityExchanger interface {
	Exchange(ctx context.Context, provider, code string) (ExternalIdentity, error)
}
