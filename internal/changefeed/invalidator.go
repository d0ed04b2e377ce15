package changefeed

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/sakif/blogcore/internal/cache"
	"github.com/sakif/blogcore/internal/revalidate"
)

// Cache is the part of cache.Cache the Invalidator uses.
type Cache interface {
	Invalidate(key string)
	InvalidatePrefix(name string)
}

var _ Cache = (*cache.Cache)(nil)

// Frontend tags shared by several collections.
const (
	TagHome       = "home"
	TagPosts      = "posts"
	TagNotes      = "notes"
	TagCategories = "categories"
)

// Invalidator applies one Event to the local cache and the frontend.
// Notification failures are logged and never stop the remaining work.
type Invalidator struct {
	cache    Cache
	notifier revalidate.Notifier
	logger   *slog.Logger
}

func NewInvalidator(c Cache, n revalidate.Notifier, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: c, notifier: n, logger: logger}
}

// Handle dispatches ev by collection. Unknown collections are ignored.
func (inv *Invalidator) Handle(ctx context.Context, ev Event) {
	var tags []string
	switch ev.Collection {
	case CollectionPosts:
		tags = inv.posts(ev)
	case CollectionNotes:
		tags = inv.notes(ev)
	case CollectionPages:
		tags = inv.pages(ev)
	case CollectionCategories:
		tags = inv.categories()
	default:
		inv.logger.Warn("ignoring change on unwatched collection", slog.String("collection", ev.Collection))
		return
	}

	sent := inv.notify(ctx, tags)
	inv.logger.Info("content change applied",
		slog.String("event", ev.String()),
		slog.Any("tags", sent),
	)
}

func (inv *Invalidator) posts(ev Event) []string {
	var tags []string
	if ev.DocumentID != "" {
		inv.cache.Invalidate(cache.PostKey(ev.DocumentID))
		tags = append(tags, "post-"+ev.DocumentID)
	}
	if ev.Slug != "" {
		tags = append(tags, "post-slug-"+ev.Slug)
	}
	if ev.Operation.ChangesCount() {
		tags = append(tags, TagPosts, TagHome)
		inv.cache.InvalidatePrefix(cache.NamespacePosts)
	}
	return tags
}

func (inv *Invalidator) notes(ev Event) []string {
	var tags []string
	if ev.DocumentID != "" {
		inv.cache.Invalidate(cache.NoteKey(ev.DocumentID))
		tags = append(tags, "note-"+ev.DocumentID)
	}
	if ev.NID != 0 {
		tags = append(tags, "note-nid-"+strconv.Itoa(ev.NID))
	}
	if ev.Operation.ChangesCount() {
		tags = append(tags, TagNotes, TagHome)
		inv.cache.InvalidatePrefix(cache.NamespaceNotes)
	}
	return tags
}

// pages are keyed by slug only; a delete without a slug changes nothing.
func (inv *Invalidator) pages(ev Event) []string {
	if ev.Slug == "" {
		return nil
	}
	inv.cache.Invalidate(cache.PageKey(ev.Slug))
	return []string{"page-" + ev.Slug}
}

func (inv *Invalidator) categories() []string {
	inv.cache.Invalidate(cache.CategoriesKey)
	inv.cache.InvalidatePrefix(cache.NamespacePosts)
	return []string{TagCategories}
}

func (inv *Invalidator) notify(ctx context.Context, tags []string) []string {
	sent := make([]string, 0, len(tags))
	for _, tag := range tags {
		if err := inv.notifier.NotifyTag(ctx, tag); err != nil {
			inv.logger.Error("revalidation failed",
				slog.String("tag", tag),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent = append(sent, tag)
	}
	return sent
}
