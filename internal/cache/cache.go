// Package cache is the in-process content cache that sits in front of the
// posts, notes, pages and categories reads.
//
// Entries expire after a fixed TTL and the least recently used entry is
// evicted when the cache is full. Nothing is persisted.
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultCapacity = 1000
	DefaultTTL      = 5 * time.Minute
)

// Keys.
func PostKey(id string) string { return "post:" + id }
func NoteKey(id string) string { return "note:" + id }
func PageKey(slug string) string { return "page:" + slug }

const CategoriesKey = "categories"

func PostsPageKey(page, size int) string {
	return "posts:page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(size)
}

func NotesPageKey(page, size int) string {
	return "notes:page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(size)
}

// Namespaces accepted by InvalidatePrefix.
const (
	NamespacePosts = "posts"
	NamespaceNotes = "notes"
	NamespacePages = "pages"
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	key     string
	value   []byte
	expires time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front is most recently used
	items    map[string]*list.Element

	hits, misses, evictions int64
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache. Non-positive arguments fall back to the defaults.
func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expires) {
		c.remove(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous value and resetting its TTL.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expires: expires})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.evictions++
	}
}

// Invalidate removes key. Missing keys are ignored.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// InvalidatePrefix drops a whole namespace. The posts, notes and pages
// namespaces flush the entire cache because list pages mix with other keys;
// any other name is ignored.
func (c *Cache) InvalidatePrefix(name string) {
	switch name {
	case NamespacePosts, NamespaceNotes, NamespacePages:
		c.Clear()
	}
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
