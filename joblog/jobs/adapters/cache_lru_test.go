package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewLRUCache(4)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), 0))

	now = now.Add(2 * time.Second)

	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCacheOverwriteDeletePurge(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(4)

	require.NoError(t, c.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, c.Set(ctx, "k", []byte("new"), 0))
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "missing"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Purge(ctx))
	assert.Equal(t, 0, c.Len())

	// The list is usable after a purge.
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLRUCacheReclaimsExpiredBeforeLive(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewLRUCache(2)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "live", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "stale", []byte("2"), time.Second))
	now = now.Add(time.Minute)

	// "live" is least recently used, but "stale" has expired and goes first.
	require.NoError(t, c.Set(ctx, "fresh", []byte("3"), 0))

	_, ok := c.Get(ctx, "live")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "fresh")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Expirations)
	assert.Zero(t, stats.Evictions)
	assert.Equal(t, uint64(2), stats.Hits)
}

func TestLRUCacheStats(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(1)

	_, _ = c.Get(ctx, "missing")
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Evictions: 1}, c.Stats())

	require.NoError(t, c.Purge(ctx))
	assert.Equal(t, CacheStats{}, c.Stats())
}

func TestLRUCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	in := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", in, 0))
	in[0] = 'x'

	out, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), out)

	out[1] = 'y'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestLRUCacheReclaimScansOnlyNearTail(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewLRUCache(reclaimScan + 2)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "stale", []byte("s"), time.Second))
	for i := range reclaimScan + 1 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("live-%d", i), []byte("l"), 0))
	}
	// Move the short-lived entry to the front, out of reach of the tail scan.
	_, ok := c.Get(ctx, "stale")
	require.True(t, ok)
	now = now.Add(time.Minute)

	require.NoError(t, c.Set(ctx, "new", []byte("n"), 0))

	_, ok = c.Get(ctx, "live-0")
	assert.False(t, ok, "least recently used entry is evicted")
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Zero(t, stats.Expirations)
	assert.Equal(t, reclaimScan+2, c.Len())
}
