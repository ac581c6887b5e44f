package rooms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a cached room is served without a store
// read.
const DefaultCacheTTL = 10 * time.Minute

// Cache is a read-through cache of rooms keyed by slug. Rooms never change
// after creation so entries need no invalidation. Implementations treat
// backend failures as misses.
type Cache interface {
	Get(ctx context.Context, slug string) (*Room, bool)
	Set(ctx context.Context, room *Room)
}

// RedisCache keeps rooms in Redis as JSON.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns a cache over client. A non-positive ttl uses
// DefaultCacheTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: "roomchat:room:", ttl: ttl}
}

// Get returns the cached room for slug.
func (c *RedisCache) Get(ctx context.Context, slug string) (*Room, bool) {
	data, err := c.client.Get(ctx, c.prefix+slug).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warningf("room cache get %q: %v", slug, err)
		}
		return nil, false
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		logger.Warningf("room cache entry %q is corrupt: %v", slug, err)
		return nil, false
	}
	return &room, true
}

// Set stores room under its slug.
func (c *RedisCache) Set(ctx context.Context, room *Room) {
	data, err := json.Marshal(room)
	if err != nil {
		logger.Warningf("encoding room %s for cache: %v", room.ID, err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+room.Slug, data, c.ttl).Err(); err != nil {
		logger.Warningf("room cache set %q: %v", room.Slug, err)
	}
}
