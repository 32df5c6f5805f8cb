package memory

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cvforge/cv-engine/internal/core"
)

var _ core.CacheRepository = (*Cache)(nil)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a map-backed CacheRepository with lazy TTL expiry.
type Cache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty Cache.
func NewCache(opts Options) *Cache {
	return &Cache{
		now:     opts.clock(),
		entries: make(map[string]cacheEntry),
	}
}

// Set stores value under key. A zero TTL never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	entry := cacheEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// Get returns nil for missing or expired keys.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.live(key)
	if !ok {
		return nil, nil
	}
	return bytes.Clone(entry.value), nil
}

// Delete removes key and reports whether it held a live value.
func (c *Cache) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.live(key)
	delete(c.entries, key)
	return ok, nil
}

// Exists reports whether key holds a live value.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.live(key)
	return ok, nil
}

// Health always succeeds for the memory cache.
func (c *Cache) Health(context.Context) error { return nil }

// live returns the entry for key, evicting it if expired. c.mu must be held.
func (c *Cache) live(key string) (cacheEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return entry, true
}
