package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override. Field names are split
// on word boundaries, e.g. AUTHCORE_HTTP_READ_TIMEOUT or AUTHCORE_JWT_KEY_ID.
const EnvPrefix = "AUTHCORE"

// Config is the root daemon configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	OTP      OTPConfig      `yaml:"otp"`
	Notify   NotifyConfig   `yaml:"notify"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig configures the listener and the per-IP flood guard.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	TrustedProxies  int           `yaml:"trusted_proxies" split_words:"true"`
	ThrottleRPS     float64       `yaml:"throttle_rps" split_words:"true"`
	ThrottleBurst   int           `yaml:"throttle_burst" split_words:"true"`
}

// RedisConfig points at the single node (or single slot) holding ephemeral
// state.
type RedisConfig struct {
	Addr     string `yaml:"addr" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	DB       int    `yaml:"db" split_words:"true"`
	Prefix   string `yaml:"prefix" split_words:"true"`
}

// DatabaseConfig selects the durable store. Driver is "postgres" or
// "sqlite"; DSN is a connection string or a file path respectively.
type DatabaseConfig struct {
	Driver  string `yaml:"driver" split_words:"true"`
	DSN     string `yaml:"dsn" split_words:"true"`
	Migrate bool   `yaml:"migrate" split_words:"true"`
}

// JWTConfig configures access-token signing. Ed25519 keys are read from PEM
// files; HS256 uses Secret.
type JWTConfig struct {
	SigningMethod  string        `yaml:"signing_method" split_words:"true"`
	PrivateKeyFile string        `yaml:"private_key_file" split_words:"true"`
	PublicKeyFile  string        `yaml:"public_key_file" split_words:"true"`
	Secret         string        `yaml:"secret" split_words:"true"`
	KeyID          string        `yaml:"key_id" split_words:"true"`
	Issuer         string        `yaml:"issuer" split_words:"true"`
	Audience       string        `yaml:"audience" split_words:"true"`
	AccessTTL      time.Duration `yaml:"access_ttl" split_words:"true"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" split_words:"true"`
}

// OTPConfig carries the code pepper.
type OTPConfig struct {
	Pepper string `yaml:"pepper" split_words:"true"`
}

// NotifyConfig selects how codes leave the process. Mode "stdout" prints
// them for local development; "amqp" publishes delivery jobs.
type NotifyConfig struct {
	Mode       string `yaml:"mode" split_words:"true"`
	AMQPURL    string `yaml:"amqp_url" split_words:"true"`
	Exchange   string `yaml:"exchange" split_words:"true"`
	RoutingKey string `yaml:"routing_key" split_words:"true"`
	Workers    int    `yaml:"workers" split_words:"true"`
	BufferSize int    `yaml:"buffer_size" split_words:"true"`
}

// AuditConfig enables the audit trail and its MongoDB sink.
type AuditConfig struct {
	Enabled    bool          `yaml:"enabled" split_words:"true"`
	MongoURI   string        `yaml:"mongo_uri" split_words:"true"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection" split_words:"true"`
	Retention  time.Duration `yaml:"retention" split_words:"true"`
}

// MetricsConfig exposes engine counters for Prometheus.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
	Output string `yaml:"output" split_words:"true"`
}

// Load reads configuration from path (optional), the .env file and the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration that runs against local services.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			ThrottleRPS:     20,
			ThrottleBurst:   40,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "ac:",
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DSN:     "./data/authcore.db",
			Migrate: true,
		},
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Mode:       "stdout",
			Exchange:   "auth",
			Workers:    2,
			BufferSize: 256,
		},
		Audit: AuditConfig{
			Database:   "authcore",
			Collection: "audit_logs",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if c.HTTP.TrustedProxies < 0 {
		errs = append(errs, "http.trusted_proxies must not be negative")
	}
	if c.HTTP.ThrottleRPS < 0 || c.HTTP.ThrottleBurst < 0 {
		errs = append(errs, "http throttle values must not be negative")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}

	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if c.JWT.PrivateKeyFile == "" || c.JWT.PublicKeyFile == "" {
			errs = append(errs, "jwt.private_key_file and jwt.public_key_file are required for ed25519")
		}
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			errs = append(errs, "jwt.secret must be at least 32 bytes for hs256")
		}
	default:
		errs = append(errs, fmt.Sprintf("jwt.signing_method %q must be ed25519 or hs256", c.JWT.SigningMethod))
	}

	switch strings.ToLower(c.Notify.Mode) {
	case "stdout":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			errs = append(errs, "notify.amqp_url is required for amqp mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.mode %q must be stdout or amqp", c.Notify.Mode))
	}

	if c.Audit.Enabled && c.Audit.MongoURI == "" {
		errs = append(errs, "audit.mongo_uri is required when audit is enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Engine builds the engine configuration, reading key material from disk.
func (c *Config) Engine() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = strings.ToLower(c.JWT.SigningMethod)
	cfg.JWT.KeyID = c.JWT.KeyID
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	if c.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL > 0 {
		cfg.Session.RefreshTTL = c.JWT.RefreshTTL
	}

	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	default:
		priv, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("reading jwt private key: %w", err)
		}
		pub, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("reading jwt public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	if c.OTP.Pepper != "" {
		cfg.OTP.Pepper = []byte(c.OTP.Pepper)
	}
	if c.Redis.Prefix != "" {
		cfg.Redis.Prefix = c.Redis.Prefix
	}
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled

	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, err
	}
	return cfg, nil
}
