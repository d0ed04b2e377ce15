package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(capacity int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(capacity, time.Minute, WithClock(clock.now)), clock
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{PostKey("p1"), "post:p1"},
		{NoteKey("n1"), "note:n1"},
		{PageKey("about"), "page:about"},
		{PostsPageKey(2, 10), "posts:page:2:size:10"},
		{NotesPageKey(1, 20), "notes:page:1:size:20"},
		{CategoriesKey, "categories"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(10)

	if _, ok := c.Get("post:1"); ok {
		t.Fatal("Get() on empty cache returned ok")
	}
	c.Set("post:1", []byte("hello"))
	v, ok := c.Get("post:1")
	if !ok || string(v) != "hello" {
		t.Fatalf("Get() = %q, %v, want hello, true", v, ok)
	}

	c.Set("post:1", []byte("updated"))
	v, _ = c.Get("post:1")
	if string(v) != "updated" {
		t.Errorf("Get() after overwrite = %q", v)
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Size != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestTTL(t *testing.T) {
	c, clock := newTestCache(10)
	c.Set("k", []byte("v"))

	clock.advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}

	clock.advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry still present at TTL")
	}
	if c.Stats().Size != 0 {
		t.Error("expired entry not removed")
	}
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(2)

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Get("a") // b is now least recently used
	c.Set("c", []byte("3"))

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(10)
	c.Set(PostKey("1"), []byte("x"))
	c.Set(PostKey("2"), []byte("y"))

	c.Invalidate(PostKey("1"))
	c.Invalidate("missing")

	if _, ok := c.Get(PostKey("1")); ok {
		t.Error("invalidated key still present")
	}
	if _, ok := c.Get(PostKey("2")); !ok {
		t.Error("unrelated key removed")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	tests := []struct {
		prefix    string
		wantEmpty bool
	}{
		{NamespacePosts, true},
		{NamespaceNotes, true},
		{NamespacePages, true},
		{"comments", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			c, _ := newTestCache(10)
			c.Set(PostsPageKey(1, 10), []byte("x"))
			c.Set(CategoriesKey, []byte("y"))

			c.InvalidatePrefix(tt.prefix)

			if empty := c.Stats().Size == 0; empty != tt.wantEmpty {
				t.Errorf("empty = %v, want %v", empty, tt.wantEmpty)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(50, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(k, []byte(k))
				c.Get(k)
				if i%50 == 0 {
					c.InvalidatePrefix(NamespacePosts)
				}
			}
		}(g)
	}
	wg.Wait()

	if s := c.Stats(); s.Size > 50 {
		t.Errorf("Size = %d exceeds capacity", s.Size)
	}
}
