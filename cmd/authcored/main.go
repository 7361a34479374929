// Command authcored serves the authentication API over HTTP.
//
// Durable state (users, refresh tokens, roles) lives in Postgres or SQLite;
// OTP records, counters, lockouts, the permission cache and the access
// blacklist live in Redis. Codes are printed to stdout or published to
// RabbitMQ, and the audit trail can be written to MongoDB.
//
// Run:
//
//	authcored -config authcore.yaml
//
// Create the first super admin once, with the password taken from
// AUTHCORE_BOOTSTRAP_PASSWORD:
//
//	authcored -config authcore.yaml -bootstrap-email root@example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authcore "github.com/MrEthical07/authcore"
	auditmongo "github.com/MrEthical07/authcore/audit/mongo"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/internal/logging"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/sqlstore"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	var (
		configPath     = flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "path to the YAML config file")
		bootstrapEmail = flag.String("bootstrap-email", "", "create a super admin with this email and exit")
	)
	flag.Parse()

	if err := run(*configPath, *bootstrapEmail); err != nil {
		logging.Default().Error("authcored stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, bootstrapEmail string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, version)
	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------- storage ----------
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := pingWithTimeout(ctx, func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// ---------- delivery ----------
	sender, closeSender, err := openSender(cfg.Notify, engineCfg.OTP.TTL, logger)
	if err != nil {
		return err
	}
	defer closeSender()

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLedgerStore(db.Tokens()).
		WithPermissionStore(db.Permissions()).
		WithUserProvider(db.Users()).
		WithSender(sender).
		WithLogger(logger.With("component", "engine"))

	// ---------- audit ----------
	if cfg.Audit.Enabled {
		client, err := auditmongo.Connect(ctx, cfg.Audit.MongoURI)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		sink := auditmongo.NewSink(client.Database(cfg.Audit.Database), auditmongo.Config{
			Collection: cfg.Audit.Collection,
			Retention:  cfg.Audit.Retention,
			Logger:     logger.With("component", "audit"),
		})
		if err := sink.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("audit indexes: %w", err)
		}
		builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if bootstrapEmail != "" {
		return bootstrap(ctx, engine, db.Users(), engineCfg.Password, bootstrapEmail, os.Getenv("AUTHCORE_BOOTSTRAP_PASSWORD"))
	}

	// ---------- http ----------
	opts := httpapi.Options{
		Logger:         logger.With("component", "http"),
		Version:        version,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		ThrottleRPS:    cfg.HTTP.ThrottleRPS,
		ThrottleBurst:  cfg.HTTP.ThrottleBurst,
		Ready: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return db.Ping(ctx)
		},
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = promexport.Handler(promexport.NewCollector(engine))
		opts.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.New(engine, opts).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "database", cfg.Database.Driver, "notify", cfg.Notify.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pingWithTimeout(ctx context.Context, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ping(ctx)
}

func openDatabase(cfg config.DatabaseConfig) (*sqlstore.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		return sqlstore.OpenPostgres(cfg.DSN)
	default:
		return sqlstore.OpenSQLite(cfg.DSN)
	}
}

// openSender returns the queued sender and a func that drains it and closes
// the transport.
func openSender(cfg config.NotifyConfig, codeTTL time.Duration, logger *slog.Logger) (authcore.Sender, func(), error) {
	var (
		transport authcore.Sender
		closeFn   = func() {}
	)
	switch strings.ToLower(cfg.Mode) {
	case "amqp":
		s, err := notify.DialAMQP(notify.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.RoutingKey,
			Expiration: codeTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		transport = s
		closeFn = func() { _ = s.Close() }
	default:
		transport = notify.NewWriterSender(os.Stdout)
	}

	async := notify.NewAsync(transport, notify.AsyncConfig{
		BufferSize: cfg.BufferSize,
		Workers:    cfg.Workers,
		Logger:     logger.With("component", "notify"),
	})
	return async, func() {
		async.Close()
		closeFn()
	}, nil
}

// bootstrap creates a verified admin account and binds it to SUPER_ADMIN.
func bootstrap(ctx context.Context, engine *authcore.Engine, users *sqlstore.UserStore, pc authcore.PasswordConfig, email, plain string) error {
	if plain == "" {
		return errors.New("AUTHCORE_BOOTSTRAP_PASSWORD is required")
	}
	hasher, err := password.NewHasher(password.Config{
		Memory:           pc.Memory,
		Time:             pc.Time,
		Parallelism:      pc.Parallelism,
		SaltLength:       pc.SaltLength,
		KeyLength:        pc.KeyLength,
		MinPasswordBytes: pc.MinLength,
		MaxPasswordBytes: pc.MaxLength,
	})
	if err != nil {
		return err
	}
	if err := hasher.CheckPolicy(plain); err != nil {
		return err
	}
	hash, err := hasher.Hash(plain)
	if err != nil {
		return err
	}
	user, err := users.CreateUser(ctx, authcore.CreateUserInput{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		Kind:         authcore.KindAdmin,
		IsVerified:   true,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := engine.BootstrapSuperAdmin(ctx, user.UserID); err != nil {
		return fmt.Errorf("bind super admin: %w", err)
	}
	fmt.Fprintf(os.Stdout, "super admin %s created (%s)\n", user.Email, user.UserID)
	return nil
}
