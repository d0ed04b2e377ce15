package changefeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sakif/blogcore/internal/cache"
	"github.com/sakif/blogcore/internal/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seededCache returns a cache holding one entry for every key shape.
func seededCache() *cache.Cache {
	c := cache.New(100, time.Hour)
	for _, k := range []string{
		cache.PostKey("p1"),
		cache.PostKey("p2"),
		cache.PostsPageKey(1, 10),
		cache.NoteKey("n1"),
		cache.NotesPageKey(1, 10),
		cache.PageKey("about"),
		cache.CategoriesKey,
	} {
		c.Set(k, []byte("x"))
	}
	return c
}

func present(c *cache.Cache, key string) bool {
	_, ok := c.Get(key)
	return ok
}

// =========================================================================
// EVENTS
// =========================================================================

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"post insert", Event{Operation: OpInsert, Collection: CollectionPosts}, false},
		{"category replace", Event{Operation: OpReplace, Collection: CollectionCategories}, false},
		{"unknown collection", Event{Operation: OpInsert, Collection: "comments"}, true},
		{"unknown operation", Event{Operation: "drop", Collection: CollectionPosts}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() error = %v", err)
		})
	}
}

func TestBindings(t *testing.T) {
	keys := Bindings()
	assert.Len(t, keys, 16)
	assert.Contains(t, keys, "posts.insert")
	assert.Contains(t, keys, "categories.delete")
	assert.Equal(t, "notes.update", Event{Operation: OpUpdate, Collection: CollectionNotes}.RoutingKey())
}

func TestDecodeDelivery(t *testing.T) {
	ev, err := decodeDelivery(amqp.Delivery{Body: []byte(`{"operation":"insert","collection":"notes","documentId":"n1","nid":12}`)})
	require.NoError(t, err)
	assert.Equal(t, Event{Operation: OpInsert, Collection: CollectionNotes, DocumentID: "n1", NID: 12}, ev)

	_, err = decodeDelivery(amqp.Delivery{Body: []byte(`not json`)})
	assert.Error(t, err)

	_, err = decodeDelivery(amqp.Delivery{Body: []byte(`{"operation":"insert","collection":"users"}`)})
	assert.Error(t, err)
}

// =========================================================================
// INVALIDATOR
// =========================================================================

func TestInvalidator_PostUpdateKeepsLists(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	notifier.EXPECT().NotifyTag(gomock.Any(), "post-p1").Return(nil)
	notifier.EXPECT().NotifyTag(gomock.Any(), "post-slug-hello").Return(nil)

	NewInvalidator(c, notifier, discardLogger()).Handle(context.Background(),
		Event{Operation: OpUpdate, Collection: CollectionPosts, DocumentID: "p1", Slug: "hello"})

	assert.False(t, present(c, cache.PostKey("p1")))
	assert.True(t, present(c, cache.PostKey("p2")))
	assert.True(t, present(c, cache.PostsPageKey(1, 10)), "update must not drop list pages")
}

func TestInvalidator_PostDeleteDropsLists(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	gomock.InOrder(
		notifier.EXPECT().NotifyTag(gomock.Any(), "post-p1").Return(nil),
		notifier.EXPECT().NotifyTag(gomock.Any(), "posts").Return(nil),
		notifier.EXPECT().NotifyTag(gomock.Any(), "home").Return(nil),
	)

	NewInvalidator(c, notifier, discardLogger()).Handle(context.Background(),
		Event{Operation: OpDelete, Collection: CollectionPosts, DocumentID: "p1"})

	assert.False(t, present(c, cache.PostsPageKey(1, 10)))
	assert.Zero(t, c.Stats().Size, "posts prefix invalidation flushes the cache")
}

func TestInvalidator_Notes(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	notifier.EXPECT().NotifyTag(gomock.Any(), "note-n1").Return(nil)
	notifier.EXPECT().NotifyTag(gomock.Any(), "note-nid-12").Return(nil)
	notifier.EXPECT().NotifyTag(gomock.Any(), "notes").Return(nil)
	notifier.EXPECT().NotifyTag(gomock.Any(), "home").Return(nil)

	NewInvalidator(c, notifier, discardLogger()).Handle(context.Background(),
		Event{Operation: OpInsert, Collection: CollectionNotes, DocumentID: "n1", NID: 12})

	assert.Zero(t, c.Stats().Size)
}

func TestInvalidator_Pages(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	notifier.EXPECT().NotifyTag(gomock.Any(), "page-about").Return(nil)

	inv := NewInvalidator(c, notifier, discardLogger())
	inv.Handle(context.Background(), Event{Operation: OpReplace, Collection: CollectionPages, DocumentID: "pg1", Slug: "about"})
	// A delete carries no slug and has nothing to invalidate.
	inv.Handle(context.Background(), Event{Operation: OpDelete, Collection: CollectionPages, DocumentID: "pg1"})

	assert.False(t, present(c, cache.PageKey("about")))
	assert.True(t, present(c, cache.PostKey("p1")))
}

func TestInvalidator_Categories(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	notifier.EXPECT().NotifyTag(gomock.Any(), "categories").Return(nil)

	NewInvalidator(c, notifier, discardLogger()).Handle(context.Background(),
		Event{Operation: OpUpdate, Collection: CollectionCategories, DocumentID: "c1"})

	assert.False(t, present(c, cache.CategoriesKey))
	assert.False(t, present(c, cache.PostsPageKey(1, 10)))
}

func TestInvalidator_NotifyFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	c := seededCache()

	notifier.EXPECT().NotifyTag(gomock.Any(), "post-p1").Return(errors.New("frontend down"))
	notifier.EXPECT().NotifyTag(gomock.Any(), "posts").Return(errors.New("frontend down"))
	notifier.EXPECT().NotifyTag(gomock.Any(), "home").Return(nil)

	NewInvalidator(c, notifier, discardLogger()).Handle(context.Background(),
		Event{Operation: OpInsert, Collection: CollectionPosts, DocumentID: "p1"})

	assert.Zero(t, c.Stats().Size)
}

// =========================================================================
// WATCHER
// =========================================================================

var errSourceUnavailable = errors.New("source unavailable")

// flakySource fails the first n opens.
type flakySource struct {
	Source
	mu       sync.Mutex
	failures int
}

func (f *flakySource) Open(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errSourceUnavailable
	}
	return f.Source.Open(ctx)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	seen   chan struct{}
}

func newRecorder() *recorder { return &recorder{seen: make(chan struct{}, 16)} }

func (r *recorder) Handle(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func runWatcher(t *testing.T, src Source, h Handler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := NewWatcher(src, h, discardLogger(), WithReconnectDelay(10*time.Millisecond))
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not stop")
		}
	}
}

func TestWatcher_RetriesUntilConnected(t *testing.T) {
	mem := NewMemorySource(4)
	rec := newRecorder()
	stop := runWatcher(t, &flakySource{Source: mem, failures: 3}, rec)
	defer stop()

	ev := Event{Operation: OpInsert, Collection: CollectionPosts, DocumentID: "p1"}
	require.NoError(t, mem.Publish(context.Background(), ev))
	rec.wait(t)

	assert.Equal(t, []Event{ev}, rec.events)
	assert.Equal(t, 1, mem.Opens())
}

func TestWatcher_ReconnectsAfterStreamError(t *testing.T) {
	mem := NewMemorySource(4)
	rec := newRecorder()
	stop := runWatcher(t, mem, rec)
	defer stop()

	first := Event{Operation: OpUpdate, Collection: CollectionNotes, DocumentID: "n1"}
	require.NoError(t, mem.Publish(context.Background(), first))
	rec.wait(t)

	mem.Fail(errors.New("cursor lost"))
	require.Eventually(t, func() bool { return mem.Opens() >= 2 }, 2*time.Second, 5*time.Millisecond)

	second := Event{Operation: OpDelete, Collection: CollectionNotes, DocumentID: "n1"}
	require.NoError(t, mem.Publish(context.Background(), second))
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []Event{first, second}, rec.events)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	stop := runWatcher(t, &flakySource{Source: NewMemorySource(1), failures: 1 << 30}, newRecorder())
	time.Sleep(30 * time.Millisecond)
	stop()
}

func TestMemorySource_RejectsInvalid(t *testing.T) {
	err := NewMemorySource(1).Publish(context.Background(), Event{Operation: OpInsert, Collection: "users"})
	assert.Error(t, err)
}
