package serving

import (
	"context"
	"fmt"
	"sync"
)

// ResultCache stores scored results keyed by request parameters.
type ResultCache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, r Result)
}

// CacheKey derives the cache key of an input. Inputs are clipped first, so
// out-of-range requests that score identically share an entry.
func CacheKey(in Input) string {
	in = in.Clipped()
	return fmt.Sprintf("predict:%s|%.4f|%.4f|%.4f|%.4f|%d|%d|%d|%d|%d",
		in.District, in.Temperature, in.Humidity, in.WindSpeed, in.Load,
		in.Time.Hour, in.Time.DayOfWeek, in.Time.Month, in.Time.Season, in.Time.IsPeakHour)
}

// MemoryCache is an in-process LRU ResultCache.
type MemoryCache struct {
	lru *lruCache[Result]
}

// NewMemoryCache creates an LRU cache holding at most maxEntries results.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{lru: newLRUCache[Result](maxEntries)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool) {
	return c.lru.get(key)
}

func (c *MemoryCache) Put(_ context.Context, key string, r Result) {
	c.lru.put(key, r)
}

// Len reports the number of cached results.
func (c *MemoryCache) Len() int {
	return c.lru.size()
}

// lruCache is a thread-safe LRU map from string keys to values of type V,
// generic over the cached value. A capacity below one is raised to one, so
// the latest value is always retained.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*lruEntry[V]
	head       *lruEntry[V] // most recently used
	tail       *lruEntry[V] // least recently used
}

type lruEntry[V any] struct {
	key   string
	value V
	prev  *lruEntry[V]
	next  *lruEntry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*lruEntry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &lruEntry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) moveToFront(e *lruEntry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *lruEntry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *lruEntry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
