package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10})

	_, found := c.Get("a")
	require.False(t, found)

	c.Set("a", 1)
	v, found := c.Get("a")
	require.True(t, found)
	require.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	require.Equal(t, 2, v)
	require.Equal(t, 1, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 2})

	c.Set("a", 1)
	c.Set("b", 2)

	// 访问 a，使 b 成为最久未使用
	_, _ = c.Get("a")

	c.Set("c", 3)
	_, found := c.Get("b")
	require.False(t, found)
	_, found = c.Get("a")
	require.True(t, found)
	require.Equal(t, int64(1), c.Stats().Evictions)
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10, TTL: 20 * time.Millisecond})

	c.Set("a", 1)
	_, found := c.Get("a")
	require.True(t, found)

	time.Sleep(30 * time.Millisecond)
	_, found = c.Get("a")
	require.False(t, found)
	require.Equal(t, 0, c.Len())
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10})

	c.Set("a", 1)
	require.True(t, c.Delete("a"))
	require.False(t, c.Delete("a"))

	c.Set("b", 2)
	c.Set("c", 3)
	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 10})

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	require.Equal(t, int64(2), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, 1, stats.Size)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string, int](Config{Name: "test", MaxSize: 64})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%16)
				c.Set(key, n)
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, c.Len(), 16)
}
