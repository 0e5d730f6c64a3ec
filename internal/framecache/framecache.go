// Package framecache implements the bounded LRU of resolved Frame values
// keyed by (code-identity, instruction-index) or program counter.
package framecache

import (
	"container/list"
	"sync"

	"github.com/stealthrocket/rtprof/internal/frame"
)

// Cache is a bounded LRU of frame.Frame values. It is single-writer by
// construction in wall/cpu mode (only the Sampler mutates it); in memory
// mode the allocator shim also writes, serialized by the host runtime's
// global execution lock (see Sampler design notes).
type Cache struct {
	mu       sync.Mutex
	capacity int
	index    map[uint64]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key   uint64
	frame frame.Frame
}

// New constructs a Cache holding at most capacity frames. capacity should
// be max_frames*(1+1) when native unwinding is enabled, max_frames
// otherwise, per spec.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		index:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

// Lookup returns the cached frame for key, moving it to the
// most-recently-used position, and reports whether it was found.
func (c *Cache) Lookup(key uint64) (frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return frame.Frame{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).frame, true
}

// Store inserts f under key, evicting the least-recently-used entry first
// if the cache is at capacity. If key is already present, its value is
// replaced and it moves to the most-recently-used position.
func (c *Cache) Store(key uint64, f frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*cacheEntry).frame = f
		c.order.MoveToFront(el)
		return
	}

	if len(c.index) >= c.capacity {
		back := c.order.Back()
		if back != nil {
			old := back.Value.(*cacheEntry)
			delete(c.index, old.key)
			c.order.Remove(back)
		}
	}

	el := c.order.PushFront(&cacheEntry{key: key, frame: f})
	c.index[key] = el
}

// GetOrCreate returns the cached frame for key if present, otherwise calls
// build to construct one (which may itself fail and return frame.Invalid),
// stores it, and returns it.
func (c *Cache) GetOrCreate(key uint64, build func() (frame.Frame, error)) frame.Frame {
	if f, ok := c.Lookup(key); ok {
		return f
	}
	f, err := build()
	if err != nil {
		f = frame.Invalid
	}
	c.Store(key, f)
	return f
}

// Len reports the number of frames currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// consistent reports whether every index entry is reachable from the LRU
// list and vice versa, with matching iterator identity -- the invariant
// spec.md §3 states for the cache. The caller holds c.mu; tests reach it
// through Consistent.
func (c *Cache) consistent() bool {
	if len(c.index) != c.order.Len() {
		return false
	}
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if c.index[entry.key] != el {
			return false
		}
	}
	return true
}

// Consistent exposes consistent for tests.
func (c *Cache) Consistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consistent()
}
