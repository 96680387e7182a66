package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linkatlas/internal/models"
	"linkatlas/internal/urlutil"
)

// redisClient is the subset of redis.Client the cache needs.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// sweepDeleteScript removes an entry and its index member only while the
// entry still holds the value the sweep read. A concurrent Put that
// refreshed the entry changes the value, so the delete is skipped.
const sweepDeleteScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[2])
  return 1
end
return 0`

// RedisResultCache stores extraction results in Redis. Entries carry their
// own expires_at instead of a Redis key TTL because expired entries must
// remain readable until the sweep deletes them. An index set of cached URLs
// supports the bulk scan-and-delete sweep.
type RedisResultCache struct {
	client redisClient
	prefix string
}

// NewRedisResultCache connects to Redis at addr. Keys are namespaced by
// prefix, e.g. "seo:".
func NewRedisResultCache(addr, prefix string) *RedisResultCache {
	return &RedisResultCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// NewRedisResultCacheWithClient builds a cache over a custom client (tests).
func NewRedisResultCacheWithClient(client redisClient, prefix string) *RedisResultCache {
	return &RedisResultCache{client: client, prefix: prefix}
}

// Close closes the Redis client.
func (c *RedisResultCache) Close() error {
	return c.client.Close()
}

func (c *RedisResultCache) entryKey(url string) string {
	return c.prefix + "result:" + url
}

func (c *RedisResultCache) indexKey() string {
	return c.prefix + "result-index"
}

// Put overwrites the entry for the normalized URL with a fresh expiry.
func (c *RedisResultCache) Put(ctx context.Context, rawURL string, payload models.ExtractionResult, ttl time.Duration) error {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := models.CacheEntry{
		URL:        url,
		Payload:    payload,
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// No Redis TTL on purpose: expired entries stay readable until the sweep.
	if err := c.client.Set(ctx, c.entryKey(url), raw, 0).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", url, err)
	}
	if err := c.client.SAdd(ctx, c.indexKey(), url).Err(); err != nil {
		return fmt.Errorf("cache index %s: %w", url, err)
	}
	return nil
}

// Get reads the entry for the normalized URL. Expired entries are returned
// as-is; ok is false only when no entry exists.
func (c *RedisResultCache) Get(ctx context.Context, rawURL string) (models.CacheEntry, bool, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return models.CacheEntry{}, false, err
	}

	raw, err := c.client.Get(ctx, c.entryKey(url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, fmt.Errorf("cache get %s: %w", url, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache decode %s: %w", url, err)
	}
	return entry, true, nil
}

// ClearExpired deletes every entry whose expiry has passed and prunes index
// members whose entry key is gone. Each delete is conditional on the value
// the sweep read, so an entry refreshed by a concurrent Put survives.
func (c *RedisResultCache) ClearExpired(ctx context.Context) (int, error) {
	urls, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("cache sweep scan: %w", err)
	}

	now := time.Now().UTC()
	deleted := 0
	for _, url := range urls {
		raw, err := c.client.Get(ctx, c.entryKey(url)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = c.client.SRem(ctx, c.indexKey(), url).Err()
				continue
			}
			return deleted, fmt.Errorf("cache sweep get %s: %w", url, err)
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil && !entry.Expired(now) {
			continue
		}
		// Expired, or unreadable and dropped rather than kept forever.
		res, err := c.client.Eval(ctx, sweepDeleteScript,
			[]string{c.entryKey(url), c.indexKey()}, raw, url).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache sweep delete %s: %w", url, err)
		}
		if n, ok := res.(int64); ok && n == 1 {
			deleted++
		}
	}
	return deleted, nil
}

// Stats counts entries and how many of them have expired.
func (c *RedisResultCache) Stats(ctx context.Context) (models.CacheStats, error) {
	urls, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}

	now := time.Now().UTC()
	stats := models.CacheStats{}
	for _, url := range urls {
		raw, err := c.client.Get(ctx, c.entryKey(url)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return models.CacheStats{}, fmt.Errorf("cache stats get %s: %w", url, err)
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		stats.TotalEntries++
		if entry.Expired(now) {
			stats.ExpiredEntries++
		}
	}
	return stats, nil
}
