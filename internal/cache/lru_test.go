package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	assert.Equal(t, []string{"c", "a"}, c.Keys())
	assert.Equal(t, 2, c.Len())
}

func TestLRU_DefaultCapacity(t *testing.T) {
	c := NewLRU[int, int](0)
	assert.Equal(t, DefaultCapacity, c.Stats().Capacity)
}

func TestLRU_GetOrComputeDoesNotCacheErrors(t *testing.T) {
	c := NewLRU[string, string](4)
	calls := 0
	fail := errors.New("boom")

	_, err := c.GetOrCompute("k", func() (string, error) {
		calls++
		return "", fail
	})
	assert.ErrorIs(t, err, fail)

	v, err := c.GetOrCompute("k", func() (string, error) {
		calls++
		return "v", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = c.GetOrCompute("k", func() (string, error) {
		calls++
		return "other", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 2, calls)
}

func TestLRU_StatsAndRemove(t *testing.T) {
	c := NewLRU[string, int](3)
	c.Put("a", 1)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
}

func TestTiered_ReadsThroughAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	backing := NewMemory()
	require.NoError(t, backing.Set(ctx, "doc", []byte("payload")))

	tiered := NewTiered(2, backing)
	v, ok, err := tiered.Get(ctx, "doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)

	require.NoError(t, tiered.Set(ctx, "new", []byte("x")))
	v, ok, err = backing.Get(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)

	_, ok, err = tiered.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}
