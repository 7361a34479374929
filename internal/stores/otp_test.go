package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestOTPStoreIssueAndConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Issue(ctx, "a@example.com", "EMAIL_VERIFICATION", "h1", time.Now(), 10*time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Consume(ctx, "a@example.com", "EMAIL_VERIFICATION", "h1", 3); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := s.Consume(ctx, "a@example.com", "EMAIL_VERIFICATION", "h1", 3); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("second consume should find nothing, got %v", err)
	}
}

func TestOTPStoreCooldown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if _, err := s.ClaimCooldown(ctx, "a@example.com", "PASSWORD_RESET", time.Now(), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	mr.FastForward(20 * time.Second)
	left, err := s.ClaimCooldown(ctx, "a@example.com", "PASSWORD_RESET", time.Now(), time.Minute)
	if !errors.Is(err, ErrOTPCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if left <= 0 || left > 40*time.Second {
		t.Fatalf("cooldown left = %v", left)
	}
	// The refused claim must not restart the cooldown.
	if ttl := mr.TTL("otpcd:a@example.com:PASSWORD_RESET"); ttl > 40*time.Second {
		t.Fatalf("cooldown extended to %v", ttl)
	}

	// Types have separate cooldowns.
	if _, err := s.ClaimCooldown(ctx, "a@example.com", "EMAIL_VERIFICATION", time.Now(), time.Minute); err != nil {
		t.Fatalf("claim other type: %v", err)
	}

	mr.FastForward(41 * time.Second)
	if _, err := s.ClaimCooldown(ctx, "a@example.com", "PASSWORD_RESET", time.Now(), time.Minute); err != nil {
		t.Fatalf("claim after cooldown: %v", err)
	}
}

func TestOTPStoreIssueReplacesRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Issue(ctx, "a@example.com", "PASSWORD_RESET", "h1", time.Now(), 10*time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Consume(ctx, "a@example.com", "PASSWORD_RESET", "wrong", 3); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := s.Issue(ctx, "a@example.com", "PASSWORD_RESET", "h2", time.Now(), 10*time.Minute); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	rec, err := s.Get(ctx, "a@example.com", "PASSWORD_RESET")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.CodeHash != "h2" || rec.Attempts != 0 {
		t.Fatalf("record = %+v, want fresh h2", rec)
	}
}

func TestOTPStoreAttemptsExhaustRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Issue(ctx, "a@example.com", "EMAIL_VERIFICATION", "right", time.Now(), 10*time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Consume(ctx, "a@example.com", "EMAIL_VERIFICATION", "wrong", 3); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}

	if err := s.Consume(ctx, "a@example.com", "EMAIL_VERIFICATION", "right", 3); !errors.Is(err, ErrOTPAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded with correct code, got %v", err)
	}
}

func TestOTPStoreRecordExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Issue(ctx, "a@example.com", "EMAIL_VERIFICATION", "h", time.Now(), 10*time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.FastForward(10*time.Minute + time.Second)

	if err := s.Consume(ctx, "a@example.com", "EMAIL_VERIFICATION", "h", 3); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected expired record, got %v", err)
	}
}

func TestBlacklist(t *testing.T) {
	mr, rdb := newTestRedis(t)
	b := NewBlacklist(rdb, "")
	ctx := context.Background()

	if err := b.Add(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Add(ctx, "jti-2", 0); err != nil {
		t.Fatalf("add expired: %v", err)
	}

	if ok, err := b.Contains(ctx, "jti-1"); err != nil || !ok {
		t.Fatalf("jti-1 should be blacklisted: ok=%v err=%v", ok, err)
	}
	if ok, _ := b.Contains(ctx, "jti-2"); ok {
		t.Fatal("expired token must not be stored")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := b.Contains(ctx, "jti-1"); ok {
		t.Fatal("blacklist entry should expire with the token")
	}
}
