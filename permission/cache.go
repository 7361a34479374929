package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds resolved code lists per admin. Each admin also has a
// generation that Delete moves forward. Set only writes while the generation
// is still the one Get reported, so a resolution that overlapped an
// invalidation is dropped, including one running in another process.
type Cache interface {
	// Get returns the cached codes. On a miss it returns the generation to
	// hand to Set once the set has been computed.
	Get(ctx context.Context, userID string) (codes []string, gen uint64, hit bool, err error)
	// Set stores codes unless the generation of userID moved past gen. It
	// reports whether the entry was written.
	Set(ctx context.Context, userID string, codes []string, ttl time.Duration, gen uint64) (bool, error)
	Delete(ctx context.Context, userIDs ...string) error
}

// setIfGenerationLua writes the entry only while the generation is unchanged.
// KEYS[1] = entry key
// KEYS[2] = generation key
// ARGV[1] = expected generation
// ARGV[2] = encoded codes
// ARGV[3] = ttl (ms)
var setIfGenerationLua = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache stores each admin's codes as a JSON array under perm:user:{id}
// and its generation under perm:gen:{id}.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache whose keys start with prefix.
func NewRedisCache(redisClient redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{redis: redisClient, prefix: prefix}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + "perm:user:" + userID
}

func (c *RedisCache) genKey(userID string) string {
	return c.prefix + "perm:gen:" + userID
}

// Get implements [Cache].
func (c *RedisCache) Get(ctx context.Context, userID string) ([]string, uint64, bool, error) {
	vals, err := c.redis.MGet(ctx, c.key(userID), c.genKey(userID)).Result()
	if err != nil {
		return nil, 0, false, err
	}
	var gen uint64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("decode permission generation: %w", err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		return nil, gen, false, fmt.Errorf("decode cached permissions: %w", err)
	}
	return codes, gen, true, nil
}

// Set implements [Cache].
func (c *RedisCache) Set(ctx context.Context, userID string, codes []string, ttl time.Duration, gen uint64) (bool, error) {
	if codes == nil {
		codes = []string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return false, err
	}
	written, err := setIfGenerationLua.Run(ctx, c.redis,
		[]string{c.key(userID), c.genKey(userID)},
		strconv.FormatUint(gen, 10),
		raw,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Delete implements [Cache]. Generations are bumped in the same transaction
// that drops the entries.
func (c *RedisCache) Delete(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, c.genKey(id))
			pipe.Del(ctx, c.key(id))
		}
		return nil
	})
	return err
}

type memoryEntry struct {
	codes   []string
	expires time.Time
}

// MemoryCache is a process-local [Cache]. Entries from other processes'
// invalidations are not seen, so it suits single-instance deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	gens    map[string]uint64
	now     func() time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), gens: make(map[string]uint64), now: time.Now}
}

// WithClock replaces the time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

// Get implements [Cache].
func (c *MemoryCache) Get(_ context.Context, userID string) ([]string, uint64, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	gen := c.gens[userID]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expires) {
		return nil, gen, false, nil
	}
	return append([]string(nil), e.codes...), gen, true, nil
}

// Set implements [Cache].
func (c *MemoryCache) Set(_ context.Context, userID string, codes []string, ttl time.Duration, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		return false, nil
	}
	c.entries[userID] = memoryEntry{codes: append([]string(nil), codes...), expires: c.now().Add(ttl)}
	return true, nil
}

// Delete implements [Cache].
func (c *MemoryCache) Delete(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	for _, id := range userIDs {
		delete(c.entries, id)
		c.gens[id]++
	}
	c.mu.Unlock()
	return nil
}
