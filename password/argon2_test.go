package password

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newArgon2(t *testing.T, mutate func(*Config)) *Argon2 {
	t.Helper()
	cfg := fastConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := newArgon2(t, nil)
	hash, err := a.Hash("correct-horse-1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix %q", hash)
	}

	other, _ := a.Hash("correct-horse-1")
	if other == hash {
		t.Fatal("two hashes of one password share a salt")
	}

	for _, tc := range []struct {
		plain string
		want  bool
	}{
		{"correct-horse-1", true},
		{"correct-horse-2", false},
		{"Correct-horse-1", false},
	} {
		ok, err := a.Verify(tc.plain, hash)
		if err != nil || ok != tc.want {
			t.Fatalf("Verify(%q) = %v, %v; want %v", tc.plain, ok, err, tc.want)
		}
	}
}

func TestArgon2LengthPolicy(t *testing.T) {
	a := newArgon2(t, func(c *Config) { c.MaxPasswordBytes = 100 })

	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrPasswordTooShort},
		{"seven bytes", "abcdefg", ErrPasswordTooShort},
		{"eight bytes", "abcdefgh", nil},
		{"at max", strings.Repeat("x", 100), nil},
		{"over max", strings.Repeat("x", 101), ErrPasswordTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := a.CheckPolicy(tc.in)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if _, herr := a.Hash(tc.in); (herr == nil) != (tc.want == nil) {
				t.Fatalf("Hash disagrees with CheckPolicy: %v", herr)
			}
		})
	}

	// Verify refuses oversized input before touching argon2.
	hash, _ := a.Hash("abcdefgh")
	if _, err := a.Verify(strings.Repeat("x", 101), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("oversized verify: %v", err)
	}
}

func TestArgon2ZeroBoundsUseDefaults(t *testing.T) {
	a := newArgon2(t, nil)
	if err := a.CheckPolicy(strings.Repeat("d", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("default max rejected: %v", err)
	}
	if err := a.CheckPolicy(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("default max not applied: %v", err)
	}
	if err := a.CheckPolicy(strings.Repeat("d", DefaultMinPasswordBytes-1)); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("default min not applied: %v", err)
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newArgon2(t, nil)
	hash, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same params flagged: %v %v", up, err)
	}
	strong := newArgon2(t, func(c *Config) { c.Memory = 16 * 1024; c.Time = 2 })
	if up, err := strong.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("weaker params not flagged: %v %v", up, err)
	}
}

func TestArgon2RejectsBadHashes(t *testing.T) {
	a := newArgon2(t, nil)
	good, _ := a.Hash("malformed-check")

	tests := []struct {
		name string
		hash string
		want error
	}{
		{"not phc", "not-a-phc-hash", ErrMalformedHash},
		{"wrong version", strings.Replace(good, "$v=19$", "$v=18$", 1), ErrUnsupportedHash},
		{"truncated", good[:strings.LastIndex(good, "$")], ErrMalformedHash},
	}
	for _, tc := range tests {
		if _, err := a.Verify("malformed-check", tc.hash); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestArgon2AcceptsPaddedEncoding(t *testing.T) {
	a := newArgon2(t, nil)
	hash, _ := a.Hash("padding-check")

	parts := strings.Split(hash, "$")
	salt, _ := base64.RawStdEncoding.DecodeString(parts[4])
	digest, _ := base64.RawStdEncoding.DecodeString(parts[5])
	parts[4] = base64.StdEncoding.EncodeToString(salt)
	parts[5] = base64.StdEncoding.EncodeToString(digest)

	if ok, err := a.Verify("padding-check", strings.Join(parts, "$")); err != nil || !ok {
		t.Fatalf("padded PHC should verify: ok=%v err=%v", ok, err)
	}
}

func TestArgon2ConfigValidation(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.MinPasswordBytes, c.MaxPasswordBytes = 20, 10 },
		func(c *Config) { c.Memory = 1024 },
		func(c *Config) { c.SaltLength = 8 },
		func(c *Config) { c.Parallelism = 0 },
	}
	for i, mutate := range bad {
		cfg := fastConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
