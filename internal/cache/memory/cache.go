// Package memory implements the fast in-process cache tier.
//
// Cache is a bounded map with per-entry TTL and approximate LRU eviction: recency is
// refreshed by Get only. Overwriting an existing key with Set updates its value and
// expiry in place but leaves its position in the eviction order untouched.
package memory

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/atomic"

	"goflare.io/encore/internal/models"
)

// Cache is a fixed-capacity expiring map. It is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // Front = least recently used, Back = most recently used

	now       func() time.Time
	onEvict   func(key string)
	evictions *atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now     func() time.Time
	onEvict func(key string)
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEvictionCallback is called, under the cache lock, for every capacity eviction.
func WithEvictionCallback(fn func(key string)) Option {
	return func(o *options) {
		o.onEvict = fn
	}
}

// New creates a Cache holding at most maxSize entries. maxSize below 1 is raised to 1.
func New[V any](maxSize int, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[V]{
		maxSize:   maxSize,
		items:     make(map[string]*list.Element),
		order:     list.New(),
		now:       o.now,
		onEvict:   o.onEvict,
		evictions: atomic.NewInt64(0),
	}
}

// Get returns the value for key. Expired entries are removed and reported as a miss.
// A hit moves the entry to the most recently used end.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*models.Entry[V])
	if entry.ExpiredAt(c.now()) {
		c.removeElement(el)
		return zero, false
	}

	c.order.MoveToBack(el)
	entry.AccessCount.Inc()
	return entry.Value, true
}

// Set stores value for ttl. A ttl of zero or less never expires. When the cache is full
// and key is new, the least recently used entry is evicted first.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*models.Entry[V])
		entry.Value = value
		entry.CreatedAt = now
		entry.ExpiresAt = expiry(now, ttl)
		return
	}

	if len(c.items) >= c.maxSize {
		if head := c.order.Front(); head != nil {
			evicted := head.Value.(*models.Entry[V]).Key
			c.removeElement(head)
			c.evictions.Inc()
			if c.onEvict != nil {
				c.onEvict(evicted)
			}
		}
	}

	entry := models.NewEntry(key, value, now, ttl)
	entry.ExpiresAt = expiry(now, ttl)
	c.items[key] = c.order.PushBack(entry)
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Cleanup removes every entry that has expired and returns how many were removed.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*models.Entry[V]).ExpiresAt.Before(now) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*models.Entry[V]).Key)
	}
	return keys
}

// Evictions returns the number of capacity evictions since creation.
func (c *Cache[V]) Evictions() int64 {
	return c.evictions.Load()
}

func (c *Cache[V]) removeElement(el *list.Element) {
	entry := c.order.Remove(el).(*models.Entry[V])
	delete(c.items, entry.Key)
}

// noExpiry is far enough away to never be reached by a running process.
var noExpiry = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return noExpiry
	}
	return now.Add(ttl)
}
