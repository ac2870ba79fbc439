package permissions

import (
	"context"
	"sync"
	"time"
)

// Cache stores resolved decision sets keyed by catalog, role name, and user
// id. Implementations must never expose a half-written entry: a read returns
// either a complete value or a miss. Cache failures are absorbed by the
// implementation; the engine treats every miss the same way.
type Cache interface {
	Catalog(ctx context.Context) ([]Permission, bool)
	SetCatalog(ctx context.Context, perms []Permission)
	Role(ctx context.Context, roleName string) ([]string, bool)
	SetRole(ctx context.Context, roleName string, keys []string)
	User(ctx context.Context, userID int64) ([]string, bool)
	SetUser(ctx context.Context, userID int64, keys []string)
	InvalidateUser(ctx context.Context, userID int64)
	// InvalidateRole drops the role's default set and every cached user
	// decision: the engine keeps no role→user index, so a role mutation
	// conservatively clears all user entries.
	InvalidateRole(ctx context.Context, roleName string)
	InvalidateAll(ctx context.Context)
}

// TTLConfig bundles per-table expiry durations.
type TTLConfig struct {
	Catalog time.Duration
	Role    time.Duration
	User    time.Duration
}

// DefaultTTLs returns the observed defaults: a coarse catalog TTL and a
// shared five-minute decision TTL for role and user entries.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Catalog: 10 * time.Minute,
		Role:    5 * time.Minute,
		User:    5 * time.Minute,
	}
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryCache is the in-process Cache implementation. Expiry is evaluated
// lazily on read against the injected clock; no sweeper goroutine runs.
type MemoryCache struct {
	mu      sync.RWMutex
	catalog *entry[[]Permission]
	roles   map[string]entry[[]string]
	users   map[int64]entry[[]string]
	ttl     TTLConfig
	now     func() time.Time
}

// NewMemoryCache constructs a MemoryCache. A nil clock defaults to time.Now.
func NewMemoryCache(ttl TTLConfig, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		roles: make(map[string]entry[[]string]),
		users: make(map[int64]entry[[]string]),
		ttl:   ttl,
		now:   now,
	}
}

// Catalog returns the cached permission catalog, if fresh.
func (c *MemoryCache) Catalog(_ context.Context) ([]Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.catalog == nil || c.catalog.expired(c.now()) {
		return nil, false
	}
	return append([]Permission(nil), c.catalog.value...), true
}

// SetCatalog replaces the whole catalog entry atomically.
func (c *MemoryCache) SetCatalog(_ context.Context, perms []Permission) {
	snapshot := append([]Permission(nil), perms...)
	c.mu.Lock()
	c.catalog = &entry[[]Permission]{value: snapshot, expiresAt: c.now().Add(c.ttl.Catalog)}
	c.mu.Unlock()
}

// Role returns the cached default set for a role, if fresh.
func (c *MemoryCache) Role(_ context.Context, roleName string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.roles[roleName]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return append([]string(nil), e.value...), true
}

// SetRole replaces a role entry.
func (c *MemoryCache) SetRole(_ context.Context, roleName string, keys []string) {
	snapshot := append([]string(nil), keys...)
	c.mu.Lock()
	c.roles[roleName] = entry[[]string]{value: snapshot, expiresAt: c.now().Add(c.ttl.Role)}
	c.mu.Unlock()
}

// User returns the cached decision set for a user, if fresh.
func (c *MemoryCache) User(_ context.Context, userID int64) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[userID]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return append([]string(nil), e.value...), true
}

// SetUser replaces a user decision entry.
func (c *MemoryCache) SetUser(_ context.Context, userID int64, keys []string) {
	snapshot := append([]string(nil), keys...)
	c.mu.Lock()
	c.users[userID] = entry[[]string]{value: snapshot, expiresAt: c.now().Add(c.ttl.User)}
	c.mu.Unlock()
}

// InvalidateUser drops one cached user decision.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID int64) {
	c.mu.Lock()
	delete(c.users, userID)
	c.mu.Unlock()
}

// InvalidateRole drops the role entry and every user decision.
func (c *MemoryCache) InvalidateRole(_ context.Context, roleName string) {
	c.mu.Lock()
	delete(c.roles, roleName)
	c.users = make(map[int64]entry[[]string])
	c.mu.Unlock()
}

// InvalidateAll drops catalog, role, and user entries.
func (c *MemoryCache) InvalidateAll(_ context.Context) {
	c.mu.Lock()
	c.catalog = nil
	c.roles = make(map[string]entry[[]string])
	c.users = make(map[int64]entry[[]string])
	c.mu.Unlock()
}
