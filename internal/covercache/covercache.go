// Package covercache implements component J of the system overview: an LRU
// cache of cover/thumbnail JPEG bytes keyed by book id, sitting between the
// OPDS router and the on-disk cover store so repeated cover/thumbnail
// requests for the same book don't re-read the file each time.
package covercache

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the number of cached JPEG blobs when the caller
// doesn't specify one.
const DefaultCapacity = 256

// Cache is an LRU cache of cover/thumbnail bytes. Per the shared-resource
// policy, it is a mutable singleton guarded by an internal mutex, shared by
// every connection goroutine.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type entry struct {
	key  string
	data []byte
}

// New builds a Cache holding at most capacity entries. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func cacheKey(bookID string, thumbnail bool) string {
	if thumbnail {
		return bookID + "#thumb"
	}
	return bookID + "#cover"
}

// Get returns the cached bytes for (bookID, thumbnail), promoting the entry
// to most-recently-used on a hit.
func (c *Cache) Get(bookID string, thumbnail bool) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[cacheKey(bookID, thumbnail)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// Put inserts data for (bookID, thumbnail), evicting the least-recently-used
// entry if the cache is already at capacity.
func (c *Cache) Put(bookID string, thumbnail bool, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(bookID, thumbnail)
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).data = data
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, data: data})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Invalidate drops both the cover and thumbnail entries for bookID, so the
// next request for them reads the backend again. No code path calls it when a
// backend's CoverUpdater replaces a cover.
func (c *Cache) Invalidate(bookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, thumb := range [2]bool{false, true} {
		key := cacheKey(bookID, thumb)
		if el, ok := c.items[key]; ok {
			c.order.Remove(el)
			delete(c.items, key)
		}
	}
}

// Len reports the current number of cached entries (for tests).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
