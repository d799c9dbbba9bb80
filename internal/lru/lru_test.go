package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	cache := New[string, int](10, nil)

	cache.Set("key1", 1)
	cache.Set("key2", 2)
	require.Equal(t, 2, cache.Len())

	value, ok := cache.Get("key1")
	require.True(t, ok)
	require.Equal(t, 1, value)
	value, ok = cache.Get("key2")
	require.True(t, ok)
	require.Equal(t, 2, value)

	// Setting an existing key updates it in place.
	cache.Set("key1", 3)
	value, ok = cache.Get("key1")
	require.True(t, ok)
	require.Equal(t, 3, value)
	require.Equal(t, 2, cache.Len())

	_, ok = cache.Get("missing")
	require.False(t, ok)
}

func TestEvict(t *testing.T) {
	evicted := make(map[string]int)
	cache := New(2, func(k string, v int) {
		evicted[k] = v
	})

	cache.Set("key1", 1)
	cache.Set("key2", 2)

	// Reading key1 makes key2 the least recently used.
	_, ok := cache.Get("key1")
	require.True(t, ok)
	cache.Set("key3", 3)
	require.Equal(t, map[string]int{"key2": 2}, evicted)
	_, ok = cache.Get("key2")
	require.False(t, ok)
	_, ok = cache.Get("key1")
	require.True(t, ok)
	_, ok = cache.Get("key3")
	require.True(t, ok)

	cache.Set("key4", 4)
	require.Equal(t, map[string]int{"key2": 2, "key1": 1}, evicted)
	require.Equal(t, 2, cache.Len())
}

func TestRemovePurge(t *testing.T) {
	var evicted []string
	cache := New(3, func(k string, _ int) {
		evicted = append(evicted, k)
	})

	cache.Set("key1", 1)
	cache.Set("key2", 2)
	cache.Set("key3", 3)

	require.True(t, cache.Remove("key2"))
	require.False(t, cache.Remove("key2"))
	require.Equal(t, []string{"key2"}, evicted)

	cache.Purge()
	require.Equal(t, []string{"key2", "key1", "key3"}, evicted)
	require.Zero(t, cache.Len())
}
