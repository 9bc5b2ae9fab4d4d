package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyLicenseKey, "abc"))
	v, ok, err := s.Get(KeyLicenseKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Delete(KeyLicenseKey))
	_, ok, err = s.Get(KeyLicenseKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, s.Delete("missing"))
}

func TestMemoryCacheTTL(t *testing.T) {
	cache := NewMemoryCache(10)
	defer cache.Stop()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.SetClock(func() time.Time { return current })

	cache.Set("k", "v", time.Hour)

	t.Run("fresh entry hits", func(t *testing.T) {
		v, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("just before expiry still hits", func(t *testing.T) {
		current = base.Add(time.Hour - time.Nanosecond)
		_, ok := cache.Get("k")
		assert.True(t, ok)
	})

	t.Run("exact expiry misses", func(t *testing.T) {
		current = base.Add(time.Hour)
		_, ok := cache.Get("k")
		assert.False(t, ok)
	})

	t.Run("expired entry is purged", func(t *testing.T) {
		_, _, size := cache.Stats()
		assert.Zero(t, size)
	})
}

func TestMemoryCacheSet(t *testing.T) {
	cache := NewMemoryCache(10)
	defer cache.Stop()

	t.Run("non-positive ttl stores nothing", func(t *testing.T) {
		cache.Set("zero", "v", 0)
		cache.Set("negative", "v", -time.Second)

		_, ok := cache.Get("zero")
		assert.False(t, ok)
		_, ok = cache.Get("negative")
		assert.False(t, ok)
	})

	t.Run("overwrite refreshes value", func(t *testing.T) {
		cache.Set("k", "v1", time.Hour)
		cache.Set("k", "v2", time.Hour)

		v, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v2", v)
	})
}

func TestMemoryCacheEviction(t *testing.T) {
	cache := NewMemoryCache(3)
	defer cache.Stop()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.SetClock(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
		current = current.Add(time.Second)
	}

	// A fourth insert evicts the oldest entry.
	cache.Set("k3", "v", time.Hour)

	_, ok := cache.Get("k0")
	assert.False(t, ok)
	_, ok = cache.Get("k3")
	assert.True(t, ok)

	_, _, size := cache.Stats()
	assert.Equal(t, 3, size)
}

func TestMemoryCacheStats(t *testing.T) {
	cache := NewMemoryCache(10)
	defer cache.Stop()

	cache.Set("k", "v", time.Hour)
	cache.Get("k")
	cache.Get("missing")

	hits, misses, size := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}
