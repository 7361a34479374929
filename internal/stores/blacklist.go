package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrBlacklistUnavailable = errors.New("blacklist redis unavailable")

// Blacklist holds revoked access-token ids until their natural expiry.
type Blacklist struct {
	redis  redis.UniversalClient
	prefix string
}

// NewBlacklist creates a blacklist whose keys start with prefix.
func NewBlacklist(redisClient redis.UniversalClient, prefix string) *Blacklist {
	return &Blacklist{redis: redisClient, prefix: prefix}
}

func (b *Blacklist) key(tokenID string) string {
	return b.prefix + "bl:" + tokenID
}

// Add revokes tokenID for ttl. A non-positive ttl means the token has
// already expired and nothing is stored.
func (b *Blacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, b.key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return nil
}

// Contains reports whether tokenID has been revoked.
func (b *Blacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := b.redis.Exists(ctx, b.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return n == 1, nil
}
