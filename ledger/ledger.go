package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by a [Store] when no token matches.
	ErrNotFound = errors.New("refresh token not found")
	// ErrInvalidToken means the presented token is unknown or malformed.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrTokenExpired means the presented token exists but is past its expiry.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrReuseDetected means an already rotated token was presented again.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrStorage wraps persistence failures. Callers may retry with backoff.
	ErrStorage = errors.New("token storage unavailable")
)

// Token is one node of a rotation chain. TokenHash is the only trace of the
// secret that is ever stored. ParentID is empty for the root of a family.
type Token struct {
	ID        string
	UserID    string
	TokenHash string
	FamilyID  string
	ParentID  string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Issued is a freshly stored token together with the raw secret the client
// must present next time. The secret is not recoverable from storage.
type Issued struct {
	Token  Token
	Secret string
}

// ReuseError reports that a family was revoked because one of its rotated
// tokens came back. It unwraps to [ErrReuseDetected], and also to the
// revocation failure when revoking the family did not succeed.
type ReuseError struct {
	FamilyID  string
	UserID    string
	TokenID   string
	Revoked   int64
	RevokeErr error
}

func (e *ReuseError) Error() string {
	if e.RevokeErr != nil {
		return fmt.Sprintf("%v: family %s (revocation failed: %v)", ErrReuseDetected, e.FamilyID, e.RevokeErr)
	}
	return fmt.Sprintf("%v: family %s", ErrReuseDetected, e.FamilyID)
}

func (e *ReuseError) Unwrap() []error {
	if e.RevokeErr != nil {
		return []error{ErrReuseDetected, e.RevokeErr}
	}
	return []error{ErrReuseDetected}
}

// Store persists tokens. Implementations must make Supersede atomic: the
// parent is revoked only if it is still active, the child is inserted only
// if that revoke applied, and applied reports which happened.
type Store interface {
	Insert(ctx context.Context, tok Token) error
	FindByHash(ctx context.Context, tokenHash string) (Token, error)
	Supersede(ctx context.Context, parentID string, child Token) (applied bool, err error)
	RevokeByHash(ctx context.Context, tokenHash string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Config controls token lifetime and retry of idempotent store calls.
type Config struct {
	TTL          time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// DefaultConfig returns a 7 day lifetime and 2 retries 50ms apart.
func DefaultConfig() Config {
	return Config{
		TTL:          7 * 24 * time.Hour,
		Retries:      2,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Ledger is the system of record for refresh tokens.
type Ledger struct {
	store  Store
	config Config
	now    func() time.Time
}

// New creates a ledger over store.
func New(store Store, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: store required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ledger: TTL must be positive")
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Ledger{store: store, config: cfg, now: time.Now}, nil
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// TTL returns the lifetime given to newly issued tokens.
func (l *Ledger) TTL() time.Duration {
	return l.config.TTL
}

// HashToken returns the storage key for a raw refresh token.
func HashToken(raw string) string {
	return internal.HashOpaqueToken(raw)
}

// Issue creates a root token for userID. An empty familyID starts a new family.
func (l *Ledger) Issue(ctx context.Context, userID, familyID string) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("ledger: user id required")
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}

	issued, err := l.newToken(userID, familyID, "")
	if err != nil {
		return Issued{}, err
	}
	// Not retried: a lost acknowledgement would leave two live roots.
	if err := l.store.Insert(ctx, issued.Token); err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return issued, nil
}

// Rotate exchanges the token whose hash is presentedHash for its successor.
//
// Unknown hashes fail with [ErrInvalidToken] and expired ones with
// [ErrTokenExpired]. A revoked token, or losing a race against a concurrent
// rotation of the same token, revokes the whole family and returns a
// [*ReuseError].
func (l *Ledger) Rotate(ctx context.Context, presentedHash string) (Issued, error) {
	if presentedHash == "" {
		return Issued{}, ErrInvalidToken
	}

	tok, err := l.Lookup(ctx, presentedHash)
	if err != nil {
		return Issued{}, err
	}
	if tok.Revoked {
		return Issued{}, l.reuse(ctx, tok)
	}
	if !l.now().Before(tok.ExpiresAt) {
		return Issued{}, ErrTokenExpired
	}

	child, err := l.newToken(tok.UserID, tok.FamilyID, tok.ID)
	if err != nil {
		return Issued{}, err
	}

	applied, err := l.store.Supersede(ctx, tok.ID, child.Token)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !applied {
		return Issued{}, l.reuse(ctx, tok)
	}
	return child, nil
}

// Lookup returns the stored token for tokenHash, revoked or not.
func (l *Ledger) Lookup(ctx context.Context, tokenHash string) (Token, error) {
	var tok Token
	err := l.retry(ctx, func() error {
		var err error
		tok, err = l.store.FindByHash(ctx, tokenHash)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Token{}, ErrInvalidToken
	}
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Revoke marks a single token revoked. It reports whether a live token was
// found; revoking an already revoked or unknown token is not an error.
func (l *Ledger) Revoke(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := l.retry(ctx, func() error {
		var err error
		revoked, err = l.store.RevokeByHash(ctx, tokenHash)
		return err
	})
	return revoked, err
}

// RevokeFamily marks every token in the family revoked.
func (l *Ledger) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := l.retry(ctx, func() error {
		var err error
		n, err = l.store.RevokeFamily(ctx, familyID)
		return err
	})
	return n, err
}

// RevokeAllForUser revokes every family belonging to userID.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := l.retry(ctx, func() error {
		var err error
		n, err = l.store.RevokeAllForUser(ctx, userID)
		return err
	})
	return n, err
}

// Sweep deletes tokens that expired before now. Correctness never depends on it.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// RunSweeper calls [Ledger.Sweep] every interval until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				logger.Warn("refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("refresh token sweep", "deleted", n)
			}
		}
	}
}

func (l *Ledger) reuse(ctx context.Context, tok Token) error {
	n, err := l.RevokeFamily(ctx, tok.FamilyID)
	return &ReuseError{
		FamilyID:  tok.FamilyID,
		UserID:    tok.UserID,
		TokenID:   tok.ID,
		Revoked:   n,
		RevokeErr: err,
	}
}

func (l *Ledger) newToken(userID, familyID, parentID string) (Issued, error) {
	secret, err := internal.NewOpaqueToken(internal.RefreshSecretSize)
	if err != nil {
		return Issued{}, fmt.Errorf("ledger: generate secret: %w", err)
	}
	now := l.now()
	return Issued{
		Token: Token{
			ID:        ids.NewAt(now),
			UserID:    userID,
			TokenHash: HashToken(secret),
			FamilyID:  familyID,
			ParentID:  parentID,
			ExpiresAt: now.Add(l.config.TTL),
			CreatedAt: now,
		},
		Secret: secret,
	}, nil
}

// retry runs op up to 1+Retries times. ErrNotFound and context errors end
// the loop at once; anything else is treated as transient.
func (l *Ledger) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= l.config.Retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(l.config.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %v", ErrStorage, ctx.Err())
			case <-timer.C:
			}
		}

		err = op()
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
