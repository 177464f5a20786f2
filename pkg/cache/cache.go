package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Key namespaces. Every key stored through this package is prefixed with
// one of these so bulk eviction by pattern stays possible.
const (
	NamespaceUser        = "user"
	NamespacePermissions = "permissions"
	NamespaceRoles       = "roles"
	NamespaceSession     = "session"
	NamespaceRateLimit   = "rate_limit"
	NamespaceOAuthState  = "oauth_state"
	NamespaceQuery       = "query"
)

// Key builds a namespaced cache key from its parts.
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + ":" + strings.Join(parts, ":")
}

// Config holds cache connection settings
type Config struct {
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// L1 in-process cache in front of Redis. Entries expire on their own
	// so a missed cross-instance invalidation self-heals quickly.
	L1Size int
	L1TTL  time.Duration
}

// DefaultConfig returns default cache settings
func DefaultConfig() Config {
	return Config{
		RedisURL: "redis://localhost:6379",
		L1Size:   1024,
		L1TTL:    30 * time.Second,
	}
}

// Cache is the Redis-backed store shared by the permission, rate-limit and
// session concerns. All methods are failure-tolerant: they never return an
// error to the caller.
type Cache struct {
	client  *redis.Client
	l1      *lru.LRU[string, string]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a new Cache connected to the configured Redis instance.
// The metrics parameter may be nil.
func New(cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l1Size := cfg.L1Size
	if l1Size <= 0 {
		l1Size = 1024
	}
	l1TTL := cfg.L1TTL
	if l1TTL <= 0 {
		l1TTL = 30 * time.Second
	}

	return &Cache{
		client:  client,
		l1:      lru.NewLRU[string, string](l1Size, nil, l1TTL),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Get retrieves a value. The second return value is false on a miss or on
// any backend failure.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := c.l1.Get(key); ok {
		c.countHit(key)
		return value, true
	}

	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.countMiss(key)
		return "", false
	} else if err != nil {
		c.countError("get")
		c.logger.WithError(err).WithField("key", key).Warn("cache get failed, treating as miss")
		return "", false
	}

	c.l1.Add(key, value)
	c.countHit(key)
	return value, true
}

// Set stores a value with the given TTL. Returns false if the backend
// rejected the write.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.countError("set")
		c.logger.WithError(err).WithField("key", key).Warn("cache set failed")
		return false
	}
	c.l1.Add(key, value)
	return true
}

// Delete removes a key. Returns true only when the backend confirmed a
// deletion.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	c.l1.Remove(key)

	deleted, err := c.client.Del(ctx, key).Result()
	if err != nil {
		c.countError("delete")
		c.logger.WithError(err).WithField("key", key).Warn("cache delete failed")
		return false
	}
	return deleted > 0
}

// DeleteByPattern removes every key matching the glob pattern. The entire
// L1 is purged since it has no pattern index; correctness over precision.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) bool {
	c.l1.Purge()

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.countError("delete_pattern")
			c.logger.WithError(err).WithField("key", iter.Val()).Warn("cache pattern delete failed")
			return false
		}
	}
	if err := iter.Err(); err != nil {
		c.countError("delete_pattern")
		c.logger.WithError(err).WithField("pattern", pattern).Warn("cache scan failed")
		return false
	}
	return true
}

// Increment atomically increments a windowed counter. The window TTL is
// set only when this is the first increment, so the window is fixed rather
// than sliding. Returns 0 when the backend is unreachable; rate-limit
// callers treat that as "not counted" and fail open.
func (c *Cache) Increment(ctx context.Context, key string, window time.Duration) int64 {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.countError("increment")
		c.logger.WithError(err).WithField("key", key).Warn("cache increment failed")
		return 0
	}
	if count == 1 && window > 0 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			c.countError("increment")
			c.logger.WithError(err).WithField("key", key).Warn("cache expire failed")
		}
	}
	return count
}

// TTL returns the remaining lifetime of a key, or 0 when unknown.
func (c *Cache) TTL(ctx context.Context, key string) time.Duration {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// CountKeys returns the number of keys matching the pattern, or 0 on
// failure. Used for dashboard stats only.
func (c *Cache) CountKeys(ctx context.Context, pattern string) int64 {
	var count int64
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		c.countError("count_keys")
		c.logger.WithError(err).WithField("pattern", pattern).Warn("cache key count failed")
		return 0
	}
	return count
}

// SumCounters returns the number of keys matching the pattern along with
// the sum of their integer values. Non-numeric values count as zero.
// Used for dashboard stats only.
func (c *Cache) SumCounters(ctx context.Context, pattern string) (int64, int64) {
	var keys, total int64
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys++
		if v, err := c.client.Get(ctx, iter.Val()).Int64(); err == nil {
			total += v
		}
	}
	if err := iter.Err(); err != nil {
		c.countError("sum_counters")
		c.logger.WithError(err).WithField("pattern", pattern).Warn("cache counter scan failed")
		return 0, 0
	}
	return keys, total
}

// MemoryUsedFraction reports used_memory/maxmemory from the backend, in
// [0, 1]. Returns 0 when maxmemory is unset or the backend is unreachable,
// which callers interpret as "no pressure".
func (c *Cache) MemoryUsedFraction(ctx context.Context) float64 {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		c.countError("info")
		c.logger.WithError(err).Warn("cache memory info failed")
		return 0
	}

	var used, max float64
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			used, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := strings.CutPrefix(line, "maxmemory:"); ok {
			max, _ = strconv.ParseFloat(v, 64)
		}
	}

	if max <= 0 || used <= 0 {
		return 0
	}
	fraction := used / max
	if fraction > 1 {
		fraction = 1
	}
	return fraction
}

// Ping checks backend connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the backend connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) countHit(key string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(namespaceOf(key)).Inc()
	}
}

func (c *Cache) countMiss(key string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
	}
}

func (c *Cache) countError(op string) {
	if c.metrics != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	}
}

func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
