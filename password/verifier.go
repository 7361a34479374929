package password

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a plaintext password against a stored hash.
type Verifier interface {
	Verify(plain, hash string) (bool, error)
}

// bcryptMaxBytes is the input length bcrypt silently truncates at.
const bcryptMaxBytes = 72

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// Hasher hashes with Argon2id and verifies both Argon2id and legacy bcrypt
// hashes. Legacy hashes always report NeedsUpgrade so they migrate on the
// next successful login.
type Hasher struct {
	argon *Argon2

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a hasher using cfg for new hashes.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// CheckPolicy reports whether password is acceptable as a new password.
func (h *Hasher) CheckPolicy(password string) error {
	return h.argon.CheckPolicy(password)
}

// Hash returns a new Argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify dispatches on the hash prefix.
func (h *Hasher) Verify(plain, hash string) (bool, error) {
	switch {
	case isArgon2(hash):
		return h.argon.Verify(plain, hash)
	case isBcrypt(hash):
		if len(plain) > bcryptMaxBytes {
			return false, nil
		}
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, errors.Join(ErrMalformedHash, err)
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports whether hash should be replaced by a fresh Hash.
func (h *Hasher) NeedsUpgrade(hash string) (bool, error) {
	if isBcrypt(hash) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(hash)
}

// VerifyDummy spends the same work as a real verification against a hash
// that matches nothing. Callers use it when the account does not exist so
// response time does not reveal that.
func (h *Hasher) VerifyDummy(plain string) {
	h.dummyOnce.Do(func() {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return
		}
		hash, err := h.argon.Hash(hex.EncodeToString(secret))
		if err == nil {
			h.dummy = hash
		}
	})
	if h.dummy == "" {
		return
	}
	_, _ = h.argon.Verify(plain, h.dummy)
}
