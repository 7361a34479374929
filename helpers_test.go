package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/otp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]UserRecord
	byEmail map[string]string
	next    int

	failLookups error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]UserRecord{}, byEmail: map[string]string{}}
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLookups != nil {
		return UserRecord{}, m.failLookups
	}
	id, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *memUsers) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLookups != nil {
		return UserRecord{}, m.failLookups
	}
	u, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrAccountExists, in.Email)
	}
	m.next++
	u := UserRecord{
		UserID:       "user-" + strconv.Itoa(m.next),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		IsVerified:   in.IsVerified,
		Kind:         in.Kind,
		CreatedAt:    time.Now(),
	}
	m.byID[u.UserID] = u
	m.byEmail[u.Email] = u.UserID
	return u, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[userID] = u
	return nil
}

func (m *memUsers) MarkVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.IsVerified = true
	m.byID[userID] = u
	return nil
}

func (m *memUsers) setActive(userID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[userID]
	u.IsActive = active
	m.byID[userID] = u
}

func (m *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	_, ok := m.byID[userID]
	m.mu.Unlock()
	if !ok {
		return ErrUserNotFound
	}
	m.setActive(userID, active)
	return nil
}

type capturedCode struct {
	email string
	typ   otp.Type
	code  string
}

type captureSender struct {
	mu    sync.Mutex
	codes []capturedCode
}

func (s *captureSender) Send(_ context.Context, email string, typ otp.Type, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, capturedCode{email: email, typ: typ, code: code})
	return nil
}

func (s *captureSender) last(t testing.TB) capturedCode {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		t.Fatal("no code was sent")
	}
	return s.codes[len(s.codes)-1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	users  *memUsers
	sender *captureSender
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
}

// advance moves the engine clock and redis key expiry together.
func (env *testEnv) advance(d time.Duration) {
	env.clock.Advance(d)
	env.mr.FastForward(d)
}

func testConfig(t testing.TB) Config {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.SweepInterval = 0
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		users:  newMemUsers(),
		sender: &captureSender{},
		mr:     mr,
		rdb:    rdb,
		clock:  &testClock{now: time.Now()},
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithSender(env.sender).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// addUser stores an account with a real argon2id hash of plain.
func (env *testEnv) addUser(t testing.TB, email, plain string, kind RoleKind, verified bool) UserRecord {
	t.Helper()
	hash, err := env.engine.hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := env.users.CreateUser(context.Background(), CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Kind:         kind,
		IsVerified:   verified,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// addSuperAdmin creates an admin account and binds it to SUPER_ADMIN.
func (env *testEnv) addSuperAdmin(t testing.TB, email, plain string) UserRecord {
	t.Helper()
	u := env.addUser(t, email, plain, KindAdmin, true)
	if err := env.engine.BootstrapSuperAdmin(context.Background(), u.UserID); err != nil {
		t.Fatalf("bootstrap super admin: %v", err)
	}
	return u
}
