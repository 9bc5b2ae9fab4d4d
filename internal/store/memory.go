package store

import (
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory StateStore. Suitable for
// tests and for hosts that keep license state in their own process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

// Set writes the value for key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// cacheEntry is a cached value with its expiry deadline.
type cacheEntry struct {
	value     string
	cachedAt  time.Time
	expiresAt time.Time
}

// MemoryCache is a TTL-bounded in-memory CacheStore. Expiry is checked
// at read time; expired entries are purged lazily on read and swept by
// a background cleanup goroutine.
type MemoryCache struct {
	mu        sync.RWMutex
	entries   map[string]cacheEntry
	maxSize   int
	hitCount  int64
	missCount int64
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewMemoryCache creates a new cache bounded to maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	cache := &MemoryCache{
		entries:  make(map[string]cacheEntry),
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a value from cache. An entry whose TTL has elapsed is
// treated as absent and removed.
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.missCount++
		return "", false
	}
	if c.now().After(entry.expiresAt) || c.now().Equal(entry.expiresAt) {
		delete(c.entries, key)
		c.missCount++
		return "", false
	}

	c.hitCount++
	return entry.value, true
}

// Set stores a value with the given TTL. A non-positive TTL stores
// nothing: the entry would already be expired.
func (c *MemoryCache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictOldest()
		}
	}

	now := c.now()
	c.entries[key] = cacheEntry{
		value:     value,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Delete removes a value from cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns cache hit/miss statistics.
func (c *MemoryCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hitCount, c.missCount, len(c.entries)
}

// SetClock overrides the cache clock. Tests only.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop gracefully stops the cache cleanup goroutine.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopChan:
			return
		}
	}
}
