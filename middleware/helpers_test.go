package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type users struct {
	mu   sync.Mutex
	byID map[string]authcore.UserRecord
}

func (u *users) find(match func(authcore.UserRecord) bool) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, rec := range u.byID {
		if match(rec) {
			return rec, nil
		}
	}
	return authcore.UserRecord{}, authcore.ErrUserNotFound
}

func (u *users) GetUserByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	return u.find(func(r authcore.UserRecord) bool { return r.Email == email })
}

func (u *users) GetUserByID(_ context.Context, id string) (authcore.UserRecord, error) {
	return u.find(func(r authcore.UserRecord) bool { return r.UserID == id })
}

func (u *users) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range u.byID {
		if r.Email == in.Email {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
	}
	rec := authcore.UserRecord{
		UserID:       "u" + strconv.Itoa(len(u.byID)+1),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		IsVerified:   in.IsVerified,
		Kind:         in.Kind,
		CreatedAt:    time.Now(),
	}
	u.byID[rec.UserID] = rec
	return rec, nil
}

func (u *users) UpdatePasswordHash(_ context.Context, id, hash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	rec.PasswordHash = hash
	u.byID[id] = rec
	return nil
}

func (u *users) MarkVerified(_ context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	rec.IsVerified = true
	u.byID[id] = rec
	return nil
}

type discardSender struct{}

func (discardSender) Send(context.Context, string, otp.Type, string) error { return nil }

type fixture struct {
	engine *authcore.Engine
	users  *users
	hasher *password.Hasher
}

func newFixture(t *testing.T, mutate func(*authcore.Config)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.SweepInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{users: &users{byID: map[string]authcore.UserRecord{}}}
	f.hasher, err = password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	f.engine, err = authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(f.users).
		WithSender(discardSender{}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(f.engine.Close)
	return f
}

// login creates a verified account of kind and returns its token pair.
// Admin accounts are bound to SUPER_ADMIN when super is set.
func (f *fixture) login(t *testing.T, email string, kind authcore.RoleKind, super bool) *authcore.TokenPair {
	t.Helper()
	hash, err := f.hasher.Hash("correct-horse-1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	rec, err := f.users.CreateUser(context.Background(), authcore.CreateUserInput{
		Email: email, PasswordHash: hash, Kind: kind, IsVerified: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if super {
		if err := f.engine.BootstrapSuperAdmin(context.Background(), rec.UserID); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
	}
	pair, err := f.engine.Login(context.Background(), email, "correct-horse-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}
