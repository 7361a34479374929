package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memUsers struct {
	mu   sync.Mutex
	byID map[string]authcore.UserRecord
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return authcore.UserRecord{}, authcore.ErrUserNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == in.Email {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
	}
	u := authcore.UserRecord{
		UserID:       fmt.Sprintf("user-%d", len(m.byID)+1),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		IsVerified:   in.IsVerified,
		Kind:         in.Kind,
		CreatedAt:    time.Now(),
	}
	m.byID[u.UserID] = u
	return u, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

func (m *memUsers) MarkVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.IsVerified = true
	m.byID[id] = u
	return nil
}

func (m *memUsers) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.IsActive = active
	m.byID[id] = u
	return nil
}

type codeSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *codeSender) Send(_ context.Context, email string, typ otp.Type, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email+"/"+string(typ)] = code
	return nil
}

func (s *codeSender) code(t *testing.T, email string, typ otp.Type) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[email+"/"+string(typ)]
	if !ok {
		t.Fatalf("no %s code sent to %s", typ, email)
	}
	return c
}

type server struct {
	engine  *authcore.Engine
	users   *memUsers
	sender  *codeSender
	handler http.Handler
}

func newServer(t *testing.T, opts Options) *server {
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

	s := &server{
		users:  &memUsers{byID: map[string]authcore.UserRecord{}},
		sender: &codeSender{codes: map[string]string{}},
	}
	s.engine, err = authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(s.users).
		WithSender(s.sender).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(s.engine.Close)

	s.handler = New(s.engine, opts).Handler()
	return s
}

// addSuperAdmin stores a verified admin bound to SUPER_ADMIN.
func (s *server) addSuperAdmin(t *testing.T, email, plain string) authcore.UserRecord {
	t.Helper()
	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := s.users.CreateUser(context.Background(), authcore.CreateUserInput{
		Email: email, PasswordHash: hash, Kind: authcore.KindAdmin, IsVerified: true,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.engine.BootstrapSuperAdmin(context.Background(), u.UserID); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return u
}

type call struct {
	method string
	path   string
	body   any
	bearer string
	cookie *http.Cookie
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			body.WriteString(raw)
		} else if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response (%d): %v", rec.Code, err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decode(t, rec, &body)
	return body.Code
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no refresh cookie set")
	return nil
}

// browser drives the API over TLS with a cookie jar, so cookie path and
// Secure rules apply the way they do for a real client.
type browser struct {
	base   *url.URL
	client *http.Client
	jar    http.CookieJar
}

func newBrowser(t *testing.T, s *server) *browser {
	t.Helper()
	srv := httptest.NewTLSServer(s.handler)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return &browser{base: base, client: client, jar: jar}
}

func (b *browser) url(path string) *url.URL {
	return b.base.ResolveReference(&url.URL{Path: path})
}

func (b *browser) post(t *testing.T, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, b.url(path).String(), &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// cookie returns the refresh cookie the jar would send to path, or nil.
func (b *browser) cookie(path string) *http.Cookie {
	for _, c := range b.jar.Cookies(b.url(path)) {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}
