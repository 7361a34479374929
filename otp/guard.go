package otp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Type names the flow a code belongs to. Codes of different types never
// satisfy each other.
type Type string

const (
	// EmailVerification codes confirm ownership of a newly registered email.
	EmailVerification Type = "EMAIL_VERIFICATION"
	// PasswordReset codes authorize setting a new password without the old one.
	PasswordReset Type = "PASSWORD_RESET"
)

// Valid reports whether t is one of the known code types.
func (t Type) Valid() bool {
	return t == EmailVerification || t == PasswordReset
}

const scopeGenerate = "otp:generate"

var (
	ErrCooldownActive   = errors.New("otp cooldown active")
	ErrLockedOut        = errors.New("otp generation locked out")
	ErrExpired          = errors.New("otp expired")
	ErrInvalid          = errors.New("otp invalid")
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrInvalidType      = errors.New("otp type invalid")
	ErrUnavailable      = errors.New("otp backend unavailable")
)

// LimitError is returned for cooldown and lockout rejections. It unwraps to
// [ErrCooldownActive] or [ErrLockedOut].
type LimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return e.Err }

// Config controls code shape and abuse thresholds.
type Config struct {
	Digits        int
	TTL           time.Duration
	Cooldown      time.Duration
	MaxAttempts   int
	MaxRequests   int
	RequestWindow time.Duration
	Lockout       time.Duration
	// Pepper, when set, keys the code hash with HMAC-SHA256.
	Pepper []byte
}

// DefaultConfig returns 6-digit codes valid for 10 minutes, a 60 second
// cooldown, 3 verification attempts, and a 24 hour lockout after more than
// 5 codes in an hour.
func DefaultConfig() Config {
	return Config{
		Digits:        6,
		TTL:           10 * time.Minute,
		Cooldown:      60 * time.Second,
		MaxAttempts:   3,
		MaxRequests:   5,
		RequestWindow: time.Hour,
		Lockout:       24 * time.Hour,
	}
}

// Validate checks the configuration for values the guard cannot honor.
func (c Config) Validate() error {
	if c.Digits < 6 || c.Digits > 10 {
		return errors.New("otp: Digits must be between 6 and 10")
	}
	if c.TTL <= 0 || c.Cooldown < 0 || c.RequestWindow <= 0 || c.Lockout <= 0 {
		return errors.New("otp: durations must be positive")
	}
	if c.MaxAttempts <= 0 || c.MaxRequests <= 0 {
		return errors.New("otp: MaxAttempts and MaxRequests must be positive")
	}
	return nil
}

// Guard issues and verifies one-time codes per (email, type).
//
// Generation and verification are limited independently: exhausting the
// attempts on one code does not block requesting another, though the
// cooldown still applies.
type Guard struct {
	store   *stores.OTPStore
	limiter *rate.Limiter
	config  Config
	now     func() time.Time
}

// NewGuard creates a guard keeping its records in Redis under prefix.
func NewGuard(redisClient redis.UniversalClient, prefix string, cfg Config) (*Guard, error) {
	if redisClient == nil {
		return nil, errors.New("otp: redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Guard{
		store:   stores.NewOTPStore(redisClient, prefix),
		limiter: rate.New(redisClient, prefix),
		config:  cfg,
		now:     time.Now,
	}, nil
}

// WithClock replaces the time source. The sliding generation window follows it.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	if now != nil {
		g.now = now
		g.limiter.WithClock(now)
	}
	return g
}

// Request issues a new code for (email, typ) and returns it in plaintext for
// delivery. Only its hash is stored.
func (g *Guard) Request(ctx context.Context, email string, typ Type) (string, error) {
	if !typ.Valid() {
		return "", ErrInvalidType
	}

	if remaining, locked, err := g.limiter.LockedOut(ctx, scopeGenerate, email); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if locked {
		return "", &LimitError{Err: ErrLockedOut, RetryAfter: remaining}
	}

	// The cooldown is claimed before the hourly hit, so a request it refuses
	// spends no budget.
	left, err := g.store.ClaimCooldown(ctx, email, string(typ), g.now(), g.config.Cooldown)
	switch {
	case errors.Is(err, stores.ErrOTPCooldown):
		return "", &LimitError{Err: ErrCooldownActive, RetryAfter: left}
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count, err := g.limiter.Hit(ctx, scopeGenerate, email, rate.Policy{
		Limit:     g.config.MaxRequests,
		Window:    g.config.RequestWindow,
		Algorithm: rate.SlidingWindow,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count > int64(g.config.MaxRequests) {
		if err := g.limiter.Lockout(ctx, scopeGenerate, email, g.config.Lockout); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", &LimitError{Err: ErrLockedOut, RetryAfter: g.config.Lockout}
	}

	code, err := internal.NewOTP(g.config.Digits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := g.store.Issue(ctx, email, string(typ), g.hash(email, typ, code), g.now(), g.config.TTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return code, nil
}

// Verify checks code against the live record for (email, typ). A match
// consumes the record.
func (g *Guard) Verify(ctx context.Context, email string, typ Type, code string) error {
	if !typ.Valid() {
		return ErrInvalidType
	}
	if len(code) != g.config.Digits {
		// Malformed input still costs an attempt.
		code = ""
	}

	err := g.store.Consume(ctx, email, string(typ), g.hash(email, typ, code), g.config.MaxAttempts)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrOTPNotFound):
		return ErrExpired
	case errors.Is(err, stores.ErrOTPMismatch):
		return ErrInvalid
	case errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return ErrAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// ResetLockout lifts the generation lockout for email. Intended for support tooling.
func (g *Guard) ResetLockout(ctx context.Context, email string) error {
	if err := g.limiter.Reset(ctx, scopeGenerate, email); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (g *Guard) hash(email string, typ Type, code string) string {
	msg := email + "|" + string(typ) + "|" + code
	if len(g.config.Pepper) > 0 {
		mac := hmac.New(sha256.New, g.config.Pepper)
		mac.Write([]byte(msg))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}
