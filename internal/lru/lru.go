package lru

import (
	"container/list"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a generic least-recently-used cache that calls onEvict for every entry it drops.
// It is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	order    *list.List
	lookup   map[K]*list.Element
	onEvict  func(K, V)
	capacity int
}

// New creates a cache that holds at most capacity entries. The eviction callback may be nil.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Cache[K, V] {
	if onEvict == nil {
		onEvict = func(K, V) {}
	}
	return &Cache[K, V]{
		order:    list.New(),
		lookup:   make(map[K]*list.Element, capacity),
		onEvict:  onEvict,
		capacity: capacity,
	}
}

// Set sets the value of a key and marks it as the most recently used.
// If the cache is full, the least recently used entry is evicted.
func (c *Cache[K, V]) Set(key K, value V) {
	if elem, ok := c.lookup[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToBack(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		c.evict(c.order.Front())
	}
	c.lookup[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
}

// Get retrieves the value of a key and marks it as the most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	elem, ok := c.lookup[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToBack(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Remove evicts a key. It reports whether the key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	elem, ok := c.lookup[key]
	if ok {
		c.evict(elem)
	}
	return ok
}

// Purge evicts every entry, least recently used first.
func (c *Cache[K, V]) Purge() {
	for c.order.Len() > 0 {
		c.evict(c.order.Front())
	}
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	return c.order.Len()
}

func (c *Cache[K, V]) evict(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[K, V])
	delete(c.lookup, e.key)
	c.onEvict(e.key, e.value)
}
