package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout under the store prefix:
//
//	rt:{id}       hash: user, family, parent, hash, exp, revoked, created (ms)
//	rth:{hash}    string: token id
//	rtf:{family}  set: token ids
//	rtu:{user}    set: family ids
//
// Every key expires with the newest token that references it, so expired
// chains disappear without a sweep.

// insertTokenScript is shared by Insert and Supersede.
// The child fields are ARGV[1..8]: id, user, family, parent, hash, exp ms,
// created ms, now ms. KEYS are the child's rt, rth, rtf and rtu keys.
const insertTokenScript = `
local function extend(key, exp, now)
  local want = exp - now
  if want <= 0 then
    return
  end
  local ttl = redis.call('PTTL', key)
  if ttl < want then
    redis.call('PEXPIRE', key, want)
  end
end

local function insert_child(tok_key, hash_key, fam_key, user_key, a)
  if redis.call('EXISTS', hash_key) == 1 then
    return false
  end
  local exp = tonumber(a[6])
  local now = tonumber(a[8])
  redis.call('HSET', tok_key,
    'user', a[2], 'family', a[3], 'parent', a[4], 'hash', a[5],
    'exp', a[6], 'revoked', '0', 'created', a[7])
  extend(tok_key, exp, now)
  redis.call('SET', hash_key, a[1])
  extend(hash_key, exp, now)
  redis.call('SADD', fam_key, a[1])
  extend(fam_key, exp, now)
  redis.call('SADD', user_key, a[3])
  extend(user_key, exp, now)
  return true
end
`

var insertLua = redis.NewScript(insertTokenScript + `
if not insert_child(KEYS[1], KEYS[2], KEYS[3], KEYS[4], ARGV) then
  return {err='duplicate'}
end
return 1
`)

// supersedeLua revokes KEYS[5] (the parent) only if it is live and then
// inserts the child. Returns 1 when applied, 0 when the parent was already
// revoked or gone.
var supersedeLua = redis.NewScript(insertTokenScript + `
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {err='duplicate'}
end
local revoked = redis.call('HGET', KEYS[5], 'revoked')
if revoked ~= '0' then
  return 0
end
redis.call('HSET', KEYS[5], 'revoked', '1')
if not insert_child(KEYS[1], KEYS[2], KEYS[3], KEYS[4], ARGV) then
  return {err='duplicate'}
end
return 1
`)

const revokeFamilyFn = `
local function revoke_family(prefix, family)
  local n = 0
  local ids = redis.call('SMEMBERS', prefix .. 'rtf:' .. family)
  for _, id in ipairs(ids) do
    local key = prefix .. 'rt:' .. id
    if redis.call('HGET', key, 'revoked') == '0' then
      redis.call('HSET', key, 'revoked', '1')
      n = n + 1
    end
  end
  return n
end
`

// revokeFamilyLua: ARGV[1] = prefix, ARGV[2] = family id.
var revokeFamilyLua = redis.NewScript(revokeFamilyFn + `
return revoke_family(ARGV[1], ARGV[2])
`)

// revokeUserLua: ARGV[1] = prefix, ARGV[2] = user id.
var revokeUserLua = redis.NewScript(revokeFamilyFn + `
local n = 0
local families = redis.call('SMEMBERS', ARGV[1] .. 'rtu:' .. ARGV[2])
for _, family in ipairs(families) do
  n = n + revoke_family(ARGV[1], family)
end
return n
`)

// revokeByHashLua: KEYS[1] = hash index key, ARGV[1] = prefix.
var revokeByHashLua = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if not id then
  return 0
end
local key = ARGV[1] .. 'rt:' .. id
if redis.call('HGET', key, 'revoked') ~= '0' then
  return 0
end
redis.call('HSET', key, 'revoked', '1')
return 1
`)

// RedisStore keeps the ledger in Redis. Every multi-key change runs as one
// Lua script, so Supersede is atomic across processes. The scripts touch
// keys derived inside Lua and therefore need a single-node or
// single-slot deployment.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store whose keys start with prefix.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: redisClient, prefix: prefix, now: time.Now}
}

func (s *RedisStore) tokenKey(id string) string { return s.prefix + "rt:" + id }

func (s *RedisStore) hashKey(hash string) string { return s.prefix + "rth:" + hash }

func (s *RedisStore) familyKey(family string) string { return s.prefix + "rtf:" + family }

func (s *RedisStore) userKey(user string) string { return s.prefix + "rtu:" + user }

func (s *RedisStore) childKeys(tok Token) []string {
	return []string{
		s.tokenKey(tok.ID),
		s.hashKey(tok.TokenHash),
		s.familyKey(tok.FamilyID),
		s.userKey(tok.UserID),
	}
}

func (s *RedisStore) childArgs(tok Token) []any {
	return []any{
		tok.ID,
		tok.UserID,
		tok.FamilyID,
		tok.ParentID,
		tok.TokenHash,
		tok.ExpiresAt.UnixMilli(),
		tok.CreatedAt.UnixMilli(),
		s.now().UnixMilli(),
	}
}

// Insert implements [Store].
func (s *RedisStore) Insert(ctx context.Context, tok Token) error {
	if err := insertLua.Run(ctx, s.redis, s.childKeys(tok), s.childArgs(tok)...).Err(); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// FindByHash implements [Store].
func (s *RedisStore) FindByHash(ctx context.Context, tokenHash string) (Token, error) {
	id, err := s.redis.Get(ctx, s.hashKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, err
	}

	fields, err := s.redis.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return Token{}, err
	}
	if len(fields) == 0 {
		return Token{}, ErrNotFound
	}
	return decodeToken(id, fields)
}

// Supersede implements [Store].
func (s *RedisStore) Supersede(ctx context.Context, parentID string, child Token) (bool, error) {
	keys := append(s.childKeys(child), s.tokenKey(parentID))
	n, err := supersedeLua.Run(ctx, s.redis, keys, s.childArgs(child)...).Int64()
	if err != nil {
		return false, fmt.Errorf("supersede token: %w", err)
	}
	return n == 1, nil
}

// RevokeByHash implements [Store].
func (s *RedisStore) RevokeByHash(ctx context.Context, tokenHash string) (bool, error) {
	n, err := revokeByHashLua.Run(ctx, s.redis, []string{s.hashKey(tokenHash)}, s.prefix).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeFamily implements [Store].
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return revokeFamilyLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}, s.prefix, familyID).Int64()
}

// RevokeAllForUser implements [Store].
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return revokeUserLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.prefix, userID).Int64()
}

// DeleteExpired implements [Store]. Key TTLs already reclaim expired tokens.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeToken(id string, fields map[string]string) (Token, error) {
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("corrupt token %s: exp: %w", id, err)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("corrupt token %s: created: %w", id, err)
	}
	return Token{
		ID:        id,
		UserID:    fields["user"],
		TokenHash: fields["hash"],
		FamilyID:  fields["family"],
		ParentID:  fields["parent"],
		ExpiresAt: time.UnixMilli(exp),
		Revoked:   fields["revoked"] != "0",
		CreatedAt: time.UnixMilli(created),
	}, nil
}
