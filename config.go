package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
)

// Config holds every tunable of the [Engine]. Start from [DefaultConfig]
// and override fields; [Builder.Build] validates the result.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Password   PasswordConfig
	Permission PermissionConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Redis      RedisConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the refresh-token ledger.
type SessionConfig struct {
	RefreshTTL time.Duration
	// SweepInterval is how often expired ledger rows are deleted. Zero
	// disables the background sweeper.
	SweepInterval time.Duration
	// StoreRetries bounds retries of idempotent ledger calls.
	StoreRetries int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls Argon2id parameters and the password policy.
type PasswordConfig struct {
	Memory         uint32 // in KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig controls the resolver cache and authorization checks.
type PermissionConfig struct {
	CacheTTL time.Duration
	// RecheckOnAuthorize makes Authorize consult the resolver for admins
	// instead of trusting the permissions embedded in the access token.
	RecheckOnAuthorize bool
	// SeedOnBuild writes the built-in roles and permissions during Build.
	SeedOnBuild bool
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig mirrors [otp.Config].
type OTPConfig struct {
	Digits        int
	TTL           time.Duration
	Cooldown      time.Duration
	MaxAttempts   int
	MaxRequests   int
	RequestWindow time.Duration
	Lockout       time.Duration
	Pepper        []byte
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds per-scope throttles. A policy with a zero Limit
// disables that scope.
type RateLimitConfig struct {
	LoginPerIP     rate.Policy
	LoginPerEmail  rate.Policy
	Register       rate.Policy
	VerifyEmail    rate.Policy
	// ResendOTP runs before the OTP guard's own hourly limit and should stay
	// above it, or callers see RATE_001 where OTP_005 is due.
	ResendOTP      rate.Policy
	ResetPassword  rate.Policy
	ChangePassword rate.Policy
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig names the key prefix shared by every Redis-backed component.
type RedisConfig struct {
	Prefix string
}

// DefaultConfig returns production defaults: 15 minute access tokens,
// 7 day refresh tokens, a 5 minute permission cache, the standard OTP
// thresholds and 15 minute login lockouts.
func DefaultConfig() Config {
	otpDefaults := otp.DefaultConfig()
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			RefreshTTL:    7 * 24 * time.Hour,
			SweepInterval: time.Hour,
			StoreRetries:  2,
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      password.DefaultMinPasswordBytes,
			MaxLength:      100,
			UpgradeOnLogin: true,
		},
		Permission: PermissionConfig{
			CacheTTL:    5 * time.Minute,
			SeedOnBuild: true,
		},
		OTP: OTPConfig{
			Digits:        otpDefaults.Digits,
			TTL:           otpDefaults.TTL,
			Cooldown:      otpDefaults.Cooldown,
			MaxAttempts:   otpDefaults.MaxAttempts,
			MaxRequests:   otpDefaults.MaxRequests,
			RequestWindow: otpDefaults.RequestWindow,
			Lockout:       otpDefaults.Lockout,
		},
		RateLimit: RateLimitConfig{
			LoginPerIP:     rate.Policy{Limit: 20, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
			LoginPerEmail:  rate.Policy{Limit: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
			Register:       rate.Policy{Limit: 5, Window: time.Hour},
			VerifyEmail:    rate.Policy{Limit: 10, Window: 15 * time.Minute},
			ResendOTP:      rate.Policy{Limit: 10, Window: time.Hour},
			ResetPassword:  rate.Policy{Limit: 5, Window: 15 * time.Minute},
			ChangePassword: rate.Policy{Limit: 5, Window: 15 * time.Minute},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Prefix: "ac:",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.OTP.Pepper = cloneBytes(cfg.OTP.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c Config) otpConfig() otp.Config {
	return otp.Config{
		Digits:        c.OTP.Digits,
		TTL:           c.OTP.TTL,
		Cooldown:      c.OTP.Cooldown,
		MaxAttempts:   c.OTP.MaxAttempts,
		MaxRequests:   c.OTP.MaxRequests,
		RequestWindow: c.OTP.RequestWindow,
		Lockout:       c.OTP.Lockout,
		Pepper:        cloneBytes(c.OTP.Pepper),
	}
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MinPasswordBytes: c.Password.MinLength,
		MaxPasswordBytes: c.Password.MaxLength,
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT.AccessTTL must not exceed 1h")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519", "hs256":
	default:
		return fmt.Errorf("JWT.SigningMethod %q is not supported", c.JWT.SigningMethod)
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT.PrivateKey is required")
	}

	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("Session.SweepInterval must be >= 0")
	}
	if c.Session.StoreRetries < 0 || c.Session.StoreRetries > 5 {
		return errors.New("Session.StoreRetries must be between 0 and 5")
	}

	if c.Password.MinLength <= 0 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password.MinLength must be > 0 and <= Password.MaxLength")
	}

	if c.Permission.CacheTTL < 0 {
		return errors.New("Permission.CacheTTL must be >= 0")
	}

	if err := c.otpConfig().Validate(); err != nil {
		return err
	}

	for name, p := range map[string]rate.Policy{
		"LoginPerIP":     c.RateLimit.LoginPerIP,
		"LoginPerEmail":  c.RateLimit.LoginPerEmail,
		"Register":       c.RateLimit.Register,
		"VerifyEmail":    c.RateLimit.VerifyEmail,
		"ResendOTP":      c.RateLimit.ResendOTP,
		"ResetPassword":  c.RateLimit.ResetPassword,
		"ChangePassword": c.RateLimit.ChangePassword,
	} {
		if p.Limit < 0 || p.Lockout < 0 {
			return fmt.Errorf("RateLimit.%s must not be negative", name)
		}
		if p.Limit > 0 && p.Window <= 0 {
			return fmt.Errorf("RateLimit.%s.Window must be > 0", name)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis.Prefix must not be empty")
	}
	return nil
}
