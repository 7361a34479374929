package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPMismatch         = errors.New("otp code mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPCooldown         = errors.New("otp cooldown active")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// claimCooldownLua starts the cooldown for one (email, type) unless it is
// already running.
// KEYS[1] = cooldown key
// ARGV[1] = created at (unix seconds)
// ARGV[2] = cooldown (ms)
//
// Returns 0 when claimed, otherwise the milliseconds left.
var claimCooldownLua = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 0
end
local left = redis.call('PTTL', KEYS[1])
if left < 1 then
  left = 1
end
return left
`)

// issueOTPLua replaces the record for one (email, type).
// KEYS[1] = record key
// ARGV[1] = code hash
// ARGV[2] = created at (unix seconds)
// ARGV[3] = record ttl (ms)
var issueOTPLua = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'hash', ARGV[1], 'attempts', '0', 'created_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// verifyOTPLua checks a code hash against the record and either consumes the
// record or counts the failure. An exhausted record stays in place, so every
// later attempt is refused until a new code replaces it or the TTL runs out.
// KEYS[1] = record key
// ARGV[1] = provided hash
// ARGV[2] = max attempts
//
// Returns the stored hash on success, or an error string:
// "not_found", "attempts_exceeded", "mismatch".
var verifyOTPLua = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'hash')
if not stored then
  return {err='not_found'}
end

local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
local maxAttempts = tonumber(ARGV[2])
if attempts >= maxAttempts then
  return {err='attempts_exceeded'}
end

if stored ~= ARGV[1] then
  redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return stored
`)

// OTPRecord is the ephemeral state kept for one (email, type) pair.
type OTPRecord struct {
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
}

// OTPStore keeps hashed one-time codes in Redis. Expiry is carried by key TTLs.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewOTPStore creates a store whose keys start with prefix.
func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	return &OTPStore{redis: redisClient, prefix: prefix}
}

func (s *OTPStore) recordKey(email, typ string) string {
	return s.prefix + "otp:" + email + ":" + typ
}

func (s *OTPStore) cooldownKey(email, typ string) string {
	return s.prefix + "otpcd:" + email + ":" + typ
}

// ClaimCooldown starts the cooldown for (email, typ). When a cooldown is
// already running it returns [ErrOTPCooldown] and the time left, and leaves
// the marker untouched.
func (s *OTPStore) ClaimCooldown(ctx context.Context, email, typ string, now time.Time, cooldown time.Duration) (time.Duration, error) {
	left, err := claimCooldownLua.Run(ctx, s.redis,
		[]string{s.cooldownKey(email, typ)},
		now.Unix(),
		cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if left > 0 {
		return time.Duration(left) * time.Millisecond, ErrOTPCooldown
	}
	return 0, nil
}

// Issue stores codeHash as the live code for (email, typ) and resets the
// attempt counter. Callers claim the cooldown first.
func (s *OTPStore) Issue(ctx context.Context, email, typ, codeHash string, now time.Time, ttl time.Duration) error {
	err := issueOTPLua.Run(ctx, s.redis,
		[]string{s.recordKey(email, typ)},
		codeHash,
		now.Unix(),
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Consume verifies codeHash and deletes the record on a match.
func (s *OTPStore) Consume(ctx context.Context, email, typ, codeHash string, maxAttempts int) error {
	result, err := verifyOTPLua.Run(ctx, s.redis,
		[]string{s.recordKey(email, typ)},
		codeHash,
		maxAttempts,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return ErrOTPNotFound
		case "attempts_exceeded":
			return ErrOTPAttemptsExceeded
		case "mismatch":
			return ErrOTPMismatch
		default:
			return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}

	stored, ok := result.(string)
	if !ok {
		return fmt.Errorf("%w: unexpected lua result type", ErrOTPRedisUnavailable)
	}

	// Lua string equality is not constant-time.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(codeHash)) != 1 {
		return ErrOTPMismatch
	}
	return nil
}

// Get returns the current record, mainly for diagnostics and tests.
func (s *OTPStore) Get(ctx context.Context, email, typ string) (*OTPRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(email, typ)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrOTPNotFound
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &OTPRecord{
		CodeHash:  fields["hash"],
		Attempts:  attempts,
		CreatedAt: time.Unix(created, 0),
	}, nil
}
