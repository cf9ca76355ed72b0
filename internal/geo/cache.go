package geo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is how long a successful lookup is reused.
const DefaultTTL = time.Hour

const defaultMaxEntries = 10000

type cacheEntry struct {
	loc     Location
	expires time.Time
}

// MemoryCache is a process-local TTL cache. Expired entries are dropped on
// read and swept when the cache reaches its size bound.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates a MemoryCache. now may be nil to use time.Now.
func NewMemoryCache(ttl time.Duration, maxEntries int, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[string]cacheEntry),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, ip string) (Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return Location{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, ip)
		return Location{}, false
	}
	return e.loc, true
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, ip string, loc Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[ip]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[ip] = cacheEntry{loc: loc, expires: now.Add(c.ttl)}
}

// evictLocked drops expired entries, then the soonest-expiring one if still full.
func (c *MemoryCache) evictLocked(now time.Time) {
	for ip, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, ip)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldest string
	var oldestAt time.Time
	for ip, e := range c.entries {
		if oldest == "" || e.expires.Before(oldestAt) {
			oldest, oldestAt = ip, e.expires
		}
	}
	delete(c.entries, oldest)
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares lookups across processes using Redis key expiry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "kblog:geo:", logger: logger}
}

// Get implements Cache. Redis errors are logged and treated as a miss.
func (c *RedisCache) Get(ctx context.Context, ip string) (Location, bool) {
	raw, err := c.client.Get(ctx, c.prefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, false
	}
	if err != nil {
		c.logger.Warn("geo cache read failed", zap.String("ip", ip), zap.Error(err))
		return Location{}, false
	}
	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		c.logger.Warn("geo cache entry corrupt", zap.String("ip", ip), zap.Error(err))
		return Location{}, false
	}
	return loc, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, ip string, loc Location) {
	raw, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+ip, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("geo cache write failed", zap.String("ip", ip), zap.Error(err))
	}
}
