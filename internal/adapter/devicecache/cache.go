// Package devicecache wraps a device registry with an in-memory LRU cache so
// the hot ingest path does not hit Postgres for every reading.
package devicecache

import (
	"context"
	"sync"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

// CachedRegistry wraps a DeviceRegistry with an in-memory LRU cache.
type CachedRegistry struct {
	inner engine.DeviceRegistry
	cache *lruCache
}

// New creates a cache decorator around a device registry.
func New(inner engine.DeviceRegistry, maxEntries int) *CachedRegistry {
	return &CachedRegistry{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (c *CachedRegistry) Get(ctx context.Context, deviceID string) (domain.Device, error) {
	if device, ok := c.cache.get(deviceID); ok {
		return device, nil
	}
	device, err := c.inner.Get(ctx, deviceID)
	if err != nil {
		// Lookups that fail are never cached, so a device registered after a
		// miss becomes visible on the next reading.
		return device, err
	}
	c.cache.put(deviceID, device)
	return device, nil
}

// Invalidate drops a device from the cache.
func (c *CachedRegistry) Invalidate(deviceID string) {
	c.cache.remove(deviceID)
}

// lruCache is a simple thread-safe LRU cache for devices.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Device
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Device{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.unlink(e)
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
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

func (c *lruCache) unlink(e *entry) {
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

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
