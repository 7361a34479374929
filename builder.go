package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	ledgerStore  ledger.Store
	permStore    permission.Store
	permCache    permission.Cache
	sender       Sender
	exchanger    IdentityExchanger
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for OTP records, counters, the blacklist
// and, unless overridden, the ledger and permission cache. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the account store. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithLedgerStore overrides the refresh-token store. Defaults to
// [ledger.RedisStore] on the configured client.
func (b *Builder) WithLedgerStore(store ledger.Store) *Builder {
	b.ledgerStore = store
	return b
}

// WithPermissionStore overrides the role and permission catalog. Defaults to
// an in-memory store, which is only suitable for tests and single-process
// deployments.
func (b *Builder) WithPermissionStore(store permission.Store) *Builder {
	b.permStore = store
	return b
}

// WithPermissionCache overrides the resolver cache. Defaults to
// [permission.RedisCache] on the configured client.
func (b *Builder) WithPermissionCache(cache permission.Cache) *Builder {
	b.permCache = cache
	return b
}

// WithSender sets the one-time code delivery channel. Without one, codes
// are issued but never delivered.
func (b *Builder) WithSender(s Sender) *Builder {
	b.sender = s
	return b
}

// WithIdentityExchanger enables [Engine.LoginWithOAuth].
func (b *Builder) WithIdentityExchanger(x IdentityExchanger) *Builder {
	b.exchanger = x
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to discarding.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces the time source of every component. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, wires every component and returns the
// engine. When Permission.SeedOnBuild is set the built-in catalog is written.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	cfg := cloneConfig(b.config)
	cfg.JWT.SigningMethod = strings.ToLower(cfg.JWT.SigningMethod)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	prefix := cfg.Redis.Prefix

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		now:          now,
		userProvider: b.userProvider,
		sender:       b.sender,
		exchanger:    b.exchanger,
		metrics:      NewMetrics(cfg.Metrics),
		blacklist:    stores.NewBlacklist(b.redis, prefix),
	}

	// -------- LEDGER --------
	ledgerStore := b.ledgerStore
	if ledgerStore == nil {
		ledgerStore = ledger.NewRedisStore(b.redis, prefix)
	}
	led, err := ledger.New(ledgerStore, ledger.Config{
		TTL:          cfg.Session.RefreshTTL,
		Retries:      cfg.Session.StoreRetries,
		RetryBackoff: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	engine.ledger = led.WithClock(now)

	// -------- PERMISSIONS --------
	permStore := b.permStore
	if permStore == nil {
		permStore = permission.NewMemoryStore()
	}
	permCache := b.permCache
	if permCache == nil {
		permCache = permission.NewRedisCache(b.redis, prefix)
	}
	resolver, err := permission.NewResolver(permStore, permCache, permission.ResolverConfig{
		CacheTTL: cfg.Permission.CacheTTL,
		OnCacheLookup: func(hit bool) {
			if hit {
				engine.metricInc(MetricPermissionCacheHit)
			} else {
				engine.metricInc(MetricPermissionCacheMiss)
			}
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	service, err := permission.NewService(permStore, resolver)
	if err != nil {
		return nil, err
	}
	if cfg.Permission.SeedOnBuild {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := service.Seed(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("seed permission catalog: %w", err)
		}
	}
	engine.permStore = permStore
	engine.resolver = resolver
	engine.roles = service

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		KeyID:         cfg.JWT.KeyID,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwt = jm.WithClock(now)

	// -------- OTP AND THROTTLES --------
	guard, err := otp.NewGuard(b.redis, prefix, cfg.otpConfig())
	if err != nil {
		return nil, err
	}
	engine.otp = guard.WithClock(now)

	limiter := rate.New(b.redis, prefix).WithClock(now)
	engine.rate = limiter
	engine.loginLimiter = limiters.NewLoginLimiter(limiter, limiters.LoginConfig{
		PerIP:    cfg.RateLimit.LoginPerIP,
		PerEmail: cfg.RateLimit.LoginPerEmail,
	})
	engine.endpoints = limiters.NewEndpointLimiter(limiter, map[string]rate.Policy{
		limiters.ScopeRegister:       cfg.RateLimit.Register,
		limiters.ScopeVerifyEmail:    cfg.RateLimit.VerifyEmail,
		limiters.ScopeResendOTP:      cfg.RateLimit.ResendOTP,
		limiters.ScopeResetPassword:  cfg.RateLimit.ResetPassword,
		limiters.ScopeChangePassword: cfg.RateLimit.ChangePassword,
	})

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.flows = engine.buildFlowDeps()

	if cfg.Session.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopSweeper = cancel
		go engine.ledger.RunSweeper(ctx, cfg.Session.SweepInterval, logger)
	}

	b.built = true
	return engine, nil
}
