package chunkstore

import (
	"container/list"
	"strings"
	"sync"
)

// Cache is a bounded LRU cache of chunk bytes, keyed by "<cube>/<chunk>".
// Entries are invalidated on write so readers never observe stale bytes.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	order    *list.List // front = most recent
	entries  map[string]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewCache creates a cache with the given byte capacity. A capacity <= 0
// disables caching entirely (Get always misses).
func NewCache(capacity int64) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns a cached chunk and marks it recently used. The returned slice
// must be treated as read-only.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheEntry).data, true
}

// Put inserts a chunk, evicting least-recently-used entries as needed.
// Chunks larger than the whole capacity are not cached.
func (c *Cache) Put(key string, data []byte) {
	if c == nil || c.capacity <= 0 || int64(len(data)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		old := el.Value.(*cacheEntry)
		c.used += int64(len(data)) - int64(len(old.data))
		old.data = data
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&cacheEntry{key: key, data: data})
		c.entries[key] = el
		c.used += int64(len(data))
	}

	for c.used > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.evict(back)
	}
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.evict(el)
	}
}

// InvalidatePrefix drops every entry whose key starts with prefix. Used
// when a cube is deleted or destructively resized.
func (c *Cache) InvalidatePrefix(prefix string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.evict(el)
		}
	}
}

func (c *Cache) evict(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
	c.used -= int64(len(entry.data))
}

// Stats returns cache occupancy and hit counters.
func (c *Cache) Stats() (used, capacity, hits, misses int64) {
	if c == nil {
		return 0, 0, 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used, c.capacity, c.hits, c.misses
}
