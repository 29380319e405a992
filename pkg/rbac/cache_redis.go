package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "bastion:perms"

// RedisCache is a PermissionCache shared by every process pointed at the
// same Redis database. Keys carry a generation number so InvalidateAll is
// a single INCR instead of a key scan.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache wraps an existing client. An empty prefix selects the default.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// RedisOptions configures DialRedis
type RedisOptions struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// DialRedis connects to Redis and verifies the connection with a PING
func DialRedis(ctx context.Context, cfg RedisOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (c *RedisCache) versionKey() string {
	return c.prefix + ":version"
}

func (c *RedisCache) entryKey(version, userID int64) string {
	return fmt.Sprintf("%s:v%d:%d", c.prefix, version, userID)
}

func (c *RedisCache) version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

// Get returns the cached entry for userID
func (c *RedisCache) Get(ctx context.Context, userID int64) (*CacheEntry, error) {
	version, err := c.version(ctx)
	if err != nil {
		return nil, err
	}

	key := c.entryKey(version, userID)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if entry.Expired(c.now()) {
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Put stores entry under the current generation with a Redis TTL
func (c *RedisCache) Put(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	version, err := c.version(ctx)
	if err != nil {
		return err
	}

	stored := withExpiry(entry, ttl, c.now)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.entryKey(version, stored.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Invalidate deletes the entry for userID in the current generation
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	version, err := c.version(ctx)
	if err != nil {
		return err
	}

	if err := c.client.Del(ctx, c.entryKey(version, userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// InvalidateAll starts a new generation. Entries of older generations are
// unreachable and expire through their Redis TTL.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.versionKey()).Err(); err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}
	return nil
}
