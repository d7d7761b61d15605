package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced clock for expiry tests.
type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.current }
func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestCache(t *testing.T, cfg Config, clock *testClock) *Cache[string] {
	t.Helper()
	c := New[string](cfg, WithClock[string](clock.now))
	t.Cleanup(c.Close)
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 10}, newTestClock())

	require.NoError(t, c.Set("k", "value"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictionNeverExceedsMaxSize(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 3}, newTestClock())

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("k%d", i), "v"))
		assert.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(7), c.Stats().Evictions)

	// The survivors are the three most recently set.
	for _, k := range []string{"k7", "k8", "k9"} {
		assert.True(t, c.Exists(k), k)
	}
	assert.False(t, c.Exists("k6"))
}

func TestEvictionOrderIsLRU(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 3}, newTestClock())

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	require.NoError(t, c.Set("c", "3"))

	// Touch a: it must now outlive b and c.
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("d", "4")) // evicts b
	assert.True(t, c.Exists("a"))
	assert.False(t, c.Exists("b"))
	assert.True(t, c.Exists("c"))

	require.NoError(t, c.Set("e", "5")) // evicts c
	assert.True(t, c.Exists("a"))
	assert.False(t, c.Exists("c"))
}

func TestLRUTouchOnSetReplace(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 2}, newTestClock())

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	require.NoError(t, c.Set("a", "1b")) // replace moves a to MRU
	require.NoError(t, c.Set("c", "3"))  // evicts b

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1b", got)
	assert.False(t, c.Exists("b"))
}

func TestExpiryIsLazyAndExact(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, Config{MaxSize: 10}, clock)

	require.NoError(t, c.SetTTL("k", "v", time.Minute))

	clock.advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry must be served before expiry")

	// Exactly at expiresAt the entry is gone, sweep or no sweep.
	clock.advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expires)
	assert.Equal(t, 0, stats.CurrentSize)
}

func TestDefaultTTLApplied(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, Config{MaxSize: 10, DefaultTTL: time.Minute}, clock)

	require.NoError(t, c.Set("k", "v"))
	clock.advance(2 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, Config{MaxSize: 10}, clock)

	require.NoError(t, c.Set("k", "v"))
	clock.advance(1000 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestExistsRemovesExpiredWithoutTouchingRecency(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, Config{MaxSize: 10}, clock)

	require.NoError(t, c.SetTTL("k", "v", time.Second))
	clock.advance(2 * time.Second)
	assert.False(t, c.Exists("k"))
	assert.Equal(t, int64(1), c.Stats().Expires)
	// Exists never counts as a hit or miss.
	assert.Zero(t, c.Stats().Hits+c.Stats().Misses)
}

func TestCompressionRoundTrip(t *testing.T) {
	c := New[string](Config{MaxSize: 10, Compression: true})
	defer c.Close()

	// Highly repetitive, well over the compression threshold.
	big := strings.Repeat("data poisoning is a training-time attack. ", 100)
	require.NoError(t, c.Set("big", big))

	got, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, big, got)

	// The stored footprint reflects the compressed form.
	assert.Less(t, c.Stats().MemoryUsageBytes, int64(len(big)))
}

func TestCompressionSkipsSmallValues(t *testing.T) {
	c := New[string](Config{MaxSize: 10, Compression: true})
	defer c.Close()

	require.NoError(t, c.Set("small", "tiny"))
	got, ok := c.Get("small")
	require.True(t, ok)
	assert.Equal(t, "tiny", got)
}

func TestCompressionDisabledRoundTrip(t *testing.T) {
	c := New[string](Config{MaxSize: 10, Compression: false})
	defer c.Close()

	big := strings.Repeat("x", 5000)
	require.NoError(t, c.Set("big", big))
	got, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, big, got)
}

func TestCleanupExpired(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, Config{MaxSize: 10}, clock)

	require.NoError(t, c.SetTTL("a", "1", time.Second))
	require.NoError(t, c.SetTTL("b", "2", time.Second))
	require.NoError(t, c.SetTTL("c", "3", time.Hour))

	clock.advance(2 * time.Second)
	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Exists("c"))
}

func TestBackgroundSweep(t *testing.T) {
	c := New[string](Config{MaxSize: 10, CleanupInterval: 10 * time.Millisecond})
	defer c.Close()

	require.NoError(t, c.SetTTL("k", "v", time.Millisecond))
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond,
		"sweep should remove the expired entry without any access")
}

func TestDeleteAndClear(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 10}, newTestClock())

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Clear()
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Deletes)
	assert.Equal(t, int64(1), stats.Clears)
	assert.Zero(t, stats.MemoryUsageBytes)
}

func TestStatsHitRate(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 10}, newTestClock())

	assert.Zero(t, c.Stats().HitRate, "no accesses yet")

	require.NoError(t, c.Set("k", "v"))
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}
