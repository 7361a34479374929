package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Algorithm selects how requests are counted inside a window.
type Algorithm uint8

const (
	// FixedWindow counts requests in buckets that start at the first hit.
	FixedWindow Algorithm = iota
	// SlidingWindow counts requests in the trailing window ending now.
	SlidingWindow
)

// Policy describes one throttle: at most Limit requests per Window, and an
// optional lockout applied once the budget is exhausted.
type Policy struct {
	Limit     int
	Window    time.Duration
	Lockout   time.Duration
	Algorithm Algorithm
}

// Limiter is a pure counter service keyed by (scope, key).
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a [Limiter] backed by the given Redis client. Every key it
// writes starts with prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock replaces the time source used by sliding windows.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
redis.call('ZADD', KEYS[1], now, ARGV[3])
redis.call('PEXPIRE', KEYS[1], window)
return redis.call('ZCARD', KEYS[1])
`)

// Allow records one request for (scope, key) and reports whether it is still
// within limit for the fixed window.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowPolicy(ctx, scope, key, Policy{Limit: limit, Window: window})
}

// AllowPolicy is [Limiter.Allow] with an explicit algorithm.
func (l *Limiter) AllowPolicy(ctx context.Context, scope, key string, p Policy) (bool, error) {
	count, err := l.Hit(ctx, scope, key, p)
	if err != nil {
		return false, err
	}
	return count <= int64(p.Limit), nil
}

// Hit records one request and returns the number of requests seen in the
// current window, this one included.
func (l *Limiter) Hit(ctx context.Context, scope, key string, p Policy) (int64, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return 0, ErrInvalidPolicy
	}

	var (
		count int64
		err   error
	)
	switch p.Algorithm {
	case SlidingWindow:
		nowMs := l.now().UnixMilli()
		count, err = slidingWindowScript.Run(
			ctx,
			l.redis,
			[]string{l.counterKey(scope, key)},
			nowMs,
			p.Window.Milliseconds(),
			strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
		).Int64()
	default:
		count, err = fixedWindowScript.Run(
			ctx,
			l.redis,
			[]string{l.counterKey(scope, key)},
			p.Window.Milliseconds(),
		).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Lockout marks (scope, key) as locked for d.
func (l *Limiter) Lockout(ctx context.Context, scope, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := l.redis.Set(ctx, l.lockKey(scope, key), l.now().Unix(), d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LockedOut reports whether (scope, key) is locked and for how much longer.
func (l *Limiter) LockedOut(ctx context.Context, scope, key string) (time.Duration, bool, error) {
	ttl, err := l.redis.PTTL(ctx, l.lockKey(scope, key)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// Reset clears both the counter and any lockout for (scope, key).
func (l *Limiter) Reset(ctx context.Context, scope, key string) error {
	if err := l.redis.Del(ctx, l.counterKey(scope, key), l.lockKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Gate applies p to (scope, key): an active lockout rejects with
// [ErrLockedOut]; otherwise the request is counted and, once over budget,
// the lockout starts and [ErrRateLimited] is returned. The duration is the
// time the caller should wait before retrying.
func (l *Limiter) Gate(ctx context.Context, scope, key string, p Policy) (time.Duration, error) {
	if remaining, locked, err := l.LockedOut(ctx, scope, key); err != nil {
		return 0, err
	} else if locked {
		return remaining, ErrLockedOut
	}

	allowed, err := l.AllowPolicy(ctx, scope, key, p)
	if err != nil {
		return 0, err
	}
	if allowed {
		return 0, nil
	}

	if p.Lockout > 0 {
		if err := l.Lockout(ctx, scope, key, p.Lockout); err != nil {
			return 0, err
		}
		return p.Lockout, ErrRateLimited
	}
	return p.Window, ErrRateLimited
}

func (l *Limiter) counterKey(scope, key string) string {
	return l.prefix + "rl:" + scope + ":" + key
}

func (l *Limiter) lockKey(scope, key string) string {
	return l.prefix + "lk:" + scope + ":" + key
}
