package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RefreshSecretSize is the number of random bytes behind an opaque refresh token.
const RefreshSecretSize = 32

// NewOpaqueToken returns size random bytes encoded as unpadded base64url.
func NewOpaqueToken(size int) (string, error) {
	if size < 16 {
		return "", errors.New("opaque token too short")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashOpaqueToken is the lookup key stored in place of a raw token: the
// hex SHA-256 of the token string exactly as the client presents it.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidOpaqueToken reports whether token looks like something
// [NewOpaqueToken] produced, so garbage never reaches storage.
func ValidOpaqueToken(token string) bool {
	if token == "" || len(token) > 128 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) >= 16
}

// NewOTP returns a numeric code of the given length drawn from crypto/rand.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
