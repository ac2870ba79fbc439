package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCatalogKey     = "perm:catalog"
	redisRoleVersionKey = "perm:role:version"
	redisUserVersionKey = "perm:user:version"
)

// RedisCache is the distributed Cache implementation for multi-instance
// deployments. Role-wide and global invalidation bump a version counter
// embedded in the entry keys, so clearing every user decision is a single
// INCR rather than a key scan. Redis failures degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    TTLConfig
	logger *slog.Logger
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, ttl TTLConfig, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Catalog returns the cached permission catalog, if present.
func (c *RedisCache) Catalog(ctx context.Context) ([]Permission, bool) {
	var perms []Permission
	if !c.get(ctx, redisCatalogKey, &perms) {
		return nil, false
	}
	return perms, true
}

// SetCatalog replaces the catalog entry.
func (c *RedisCache) SetCatalog(ctx context.Context, perms []Permission) {
	c.set(ctx, redisCatalogKey, perms, c.ttl.Catalog)
}

// Role returns the cached default set for a role, if present.
func (c *RedisCache) Role(ctx context.Context, roleName string) ([]string, bool) {
	key, ok := c.versionedKey(ctx, redisRoleVersionKey, "perm:role", roleName)
	if !ok {
		return nil, false
	}
	var keys []string
	if !c.get(ctx, key, &keys) {
		return nil, false
	}
	return keys, true
}

// SetRole replaces a role entry.
func (c *RedisCache) SetRole(ctx context.Context, roleName string, keys []string) {
	key, ok := c.versionedKey(ctx, redisRoleVersionKey, "perm:role", roleName)
	if !ok {
		return
	}
	c.set(ctx, key, keys, c.ttl.Role)
}

// User returns the cached decision set for a user, if present.
func (c *RedisCache) User(ctx context.Context, userID int64) ([]string, bool) {
	key, ok := c.versionedKey(ctx, redisUserVersionKey, "perm:user", strconv.FormatInt(userID, 10))
	if !ok {
		return nil, false
	}
	var keys []string
	if !c.get(ctx, key, &keys) {
		return nil, false
	}
	return keys, true
}

// SetUser replaces a user decision entry.
func (c *RedisCache) SetUser(ctx context.Context, userID int64, keys []string) {
	key, ok := c.versionedKey(ctx, redisUserVersionKey, "perm:user", strconv.FormatInt(userID, 10))
	if !ok {
		return
	}
	c.set(ctx, key, keys, c.ttl.User)
}

// InvalidateUser drops one cached user decision.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) {
	key, ok := c.versionedKey(ctx, redisUserVersionKey, "perm:user", strconv.FormatInt(userID, 10))
	if !ok {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("permissions cache: invalidate user", slog.Any("error", err))
	}
}

// InvalidateRole drops the role entry and bumps the user version so every
// cached user decision becomes unreachable.
func (c *RedisCache) InvalidateRole(ctx context.Context, roleName string) {
	if key, ok := c.versionedKey(ctx, redisRoleVersionKey, "perm:role", roleName); ok {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("permissions cache: invalidate role", slog.Any("error", err))
		}
	}
	c.bump(ctx, redisUserVersionKey)
}

// InvalidateAll drops the catalog and bumps both version counters.
func (c *RedisCache) InvalidateAll(ctx context.Context) {
	if err := c.client.Del(ctx, redisCatalogKey).Err(); err != nil {
		c.logger.Warn("permissions cache: invalidate catalog", slog.Any("error", err))
	}
	c.bump(ctx, redisRoleVersionKey)
	c.bump(ctx, redisUserVersionKey)
}

func (c *RedisCache) versionedKey(ctx context.Context, versionKey, prefix, suffix string) (string, bool) {
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if err == redis.Nil {
		ver = 1
		if err := c.client.Set(ctx, versionKey, ver, 0).Err(); err != nil {
			c.logger.Warn("permissions cache: init version", slog.Any("error", err))
			return "", false
		}
	} else if err != nil {
		c.logger.Warn("permissions cache: read version", slog.Any("error", err))
		return "", false
	}
	return fmt.Sprintf("%s:v%d:%s", prefix, ver, suffix), true
}

func (c *RedisCache) bump(ctx context.Context, versionKey string) {
	if err := c.client.Incr(ctx, versionKey).Err(); err != nil {
		c.logger.Warn("permissions cache: bump version", slog.Any("error", err))
	}
}

func (c *RedisCache) get(ctx context.Context, key string, dest any) bool {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("permissions cache: get", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Warn("permissions cache: decode", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func (c *RedisCache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("permissions cache: encode", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("permissions cache: set", slog.String("key", key), slog.Any("error", err))
	}
}
