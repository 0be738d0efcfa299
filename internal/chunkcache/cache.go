// Package chunkcache implements an in-memory LRU cache for byte ranges of
// remote media, keyed by (url, start, end) and bounded by a total byte
// budget.
//
// The cache uses an LRU replacement policy over a doubly linked list with
// a map index. All mutations happen under a single mutex, so it is safe
// for concurrent use by the fetcher, the preloader, and the streaming
// handlers.
package chunkcache

import (
	"container/list"
	"log/slog"
	"sync"
)

// DefaultBudget is the byte budget used when none is configured.
const DefaultBudget = 50 * 1024 * 1024

type key struct {
	url   string
	start int64
	end   int64
}

type entry struct {
	key  key
	data []byte
}

// Cache is a byte-budgeted LRU cache of media chunks.
type Cache struct {
	mu sync.Mutex

	maxBytes int64
	size     int64

	// Front of list is MRU, back is LRU.
	ll    *list.List
	items map[key]*list.Element

	logger *slog.Logger
}

// New creates a cache with the given byte budget. A non-positive budget
// falls back to DefaultBudget.
func New(maxBytes int64, logger *slog.Logger) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultBudget
	}
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[key]*list.Element),
		logger:   logger,
	}
}

// Get returns the cached bytes for (url, start, end) and promotes the
// entry to most recently used. The boolean is false on a miss.
func (c *Cache) Get(url string, start, end int64) ([]byte, bool) {
	k := key{url: url, start: start, end: end}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[k]
	if !ok {
		return nil, false
	}

	c.ll.MoveToFront(e)
	return e.Value.(*entry).data, true
}

// Put inserts a chunk, evicting least-recently-used entries until the new
// entry fits. The new entry is always admitted: a single chunk larger
// than the whole budget empties the cache and overshoots it, since
// eviction only removes existing entries and never rejects the incoming
// one.
func (c *Cache) Put(url string, start, end int64, data []byte) {
	k := key{url: url, start: start, end: end}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[k]; ok {
		// Replace in place and promote.
		old := e.Value.(*entry)
		c.size += int64(len(data)) - int64(len(old.data))
		old.data = data
		c.ll.MoveToFront(e)
		c.evictLocked()
		return
	}

	c.size += int64(len(data))
	e := c.ll.PushFront(&entry{key: k, data: data})
	c.items[k] = e
	c.evictLocked()
}

// evictLocked removes LRU entries until the cache fits its budget or only
// the most recently inserted entry remains. Caller holds c.mu.
func (c *Cache) evictLocked() {
	for c.size > c.maxBytes && c.ll.Len() > 1 {
		back := c.ll.Back()
		ev := back.Value.(*entry)
		c.ll.Remove(back)
		delete(c.items, ev.key)
		c.size -= int64(len(ev.data))

		c.logger.Debug("Evicted chunk",
			"url", ev.key.url,
			"start", ev.key.start,
			"end", ev.key.end,
			"size", len(ev.data),
			"cache_size", c.size)
	}
}

// Clear drops all entries and resets the size counter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[key]*list.Element)
	c.size = 0
}

// Size returns the current total bytes held by the cache.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
