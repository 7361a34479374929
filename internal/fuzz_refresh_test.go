package internal

import (
	"testing"
)

// FuzzValidOpaqueToken exercises refresh token shape checks with arbitrary strings.
// Goal: no panics; anything accepted must hash to a stable 64-char key.
func FuzzValidOpaqueToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if token, err := NewOpaqueToken(RefreshSecretSize); err == nil {
		f.Add(token)
	}

	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")
	f.Add("dG9vLXNob3J0")

	f.Fuzz(func(t *testing.T, input string) {
		if !ValidOpaqueToken(input) {
			return
		}
		h1 := HashOpaqueToken(input)
		h2 := HashOpaqueToken(input)
		if h1 != h2 || len(h1) != 64 {
			t.Fatalf("unstable or malformed hash %q for %q", h1, input)
		}
	})
}

func TestNewOpaqueTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		tok, err := NewOpaqueToken(RefreshSecretSize)
		if err != nil {
			t.Fatalf("NewOpaqueToken: %v", err)
		}
		if !ValidOpaqueToken(tok) {
			t.Fatalf("generated token rejected: %q", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewOTPDigits(t *testing.T) {
	code, err := NewOTP(6)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("len = %d, want 6", len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in %q", code)
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected error for 4 digits")
	}
}
