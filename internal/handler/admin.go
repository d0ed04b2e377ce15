package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/cache"
	"github.com/sakif/blogcore/internal/changefeed"
	"github.com/sakif/blogcore/internal/revalidate"
)

// CacheAdmin is the part of the content cache the owner can inspect and flush.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear()
	InvalidatePrefix(name string)
}

var _ CacheAdmin = (*cache.Cache)(nil)

// AdminHandler serves the owner-only cache and change feed routes. Every
// route runs behind RequireOwner.
type AdminHandler struct {
	cache     CacheAdmin
	notifier  revalidate.Notifier
	publisher changefeed.Publisher
	logger    *slog.Logger
}

func NewAdminHandler(c CacheAdmin, notifier revalidate.Notifier, publisher changefeed.Publisher, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{cache: c, notifier: notifier, publisher: publisher, logger: logger}
}

// HandleCacheStats reports size and hit counters.
//
// HTTP: GET /api/admin/cache/stats
func (h *AdminHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.cache.Stats())
}

type flushRequest struct {
	Namespace string `json:"namespace"`
}

// HandleCacheFlush drops one namespace, or everything when none is given.
//
// HTTP: POST /api/admin/cache/flush
// REQUEST BODY (optional): {"namespace": "posts"}
func (h *AdminHandler) HandleCacheFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	switch req.Namespace {
	case "":
		h.cache.Clear()
	case cache.NamespacePosts, cache.NamespaceNotes, cache.NamespacePages:
		h.cache.InvalidatePrefix(req.Namespace)
	default:
		writeError(w, apperror.ValidationFailed("namespace", "namespace must be posts, notes or pages"))
		return
	}

	h.logger.Info("cache flushed", slog.String("namespace", req.Namespace))
	writeData(w, http.StatusOK, h.cache.Stats())
}

type revalidateRequest struct {
	Tag  string `json:"tag"`
	Path string `json:"path"`
}

// HandleRevalidate asks the frontend to rebuild one tag or path.
//
// HTTP: POST /api/admin/revalidate
// REQUEST BODY: {"tag": "posts"} or {"path": "/posts/hello"}
func (h *AdminHandler) HandleRevalidate(w http.ResponseWriter, r *http.Request) {
	var req revalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Tag = strings.TrimSpace(req.Tag)
	req.Path = strings.TrimSpace(req.Path)
	if (req.Tag == "") == (req.Path == "") {
		writeError(w, apperror.ValidationFailed("tag", "exactly one of tag and path is required"))
		return
	}

	var err error
	if req.Tag != "" {
		err = h.notifier.NotifyTag(r.Context(), req.Tag)
	} else {
		err = h.notifier.NotifyPath(r.Context(), req.Path)
	}
	if err != nil {
		writeError(w, apperror.Upstream("revalidation", err))
		return
	}
	writeData(w, http.StatusOK, req)
}

// HandlePublishChange feeds a change event into the pipeline, exactly as the
// content store would.
//
// HTTP: POST /api/admin/changes
// REQUEST BODY: {"operation": "update", "collection": "posts", "documentId": "...", "slug": "..."}
func (h *AdminHandler) HandlePublishChange(w http.ResponseWriter, r *http.Request) {
	var ev changefeed.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, err)
		return
	}
	if err := validateEvent(ev); err != nil {
		writeError(w, err)
		return
	}

	if err := h.publisher.Publish(r.Context(), ev); err != nil {
		writeError(w, apperror.Upstream("publishing change", err))
		return
	}
	h.logger.Info("change published", slog.String("event", ev.String()))
	writeData(w, http.StatusAccepted, ev)
}

func validateEvent(ev changefeed.Event) error {
	if err := ev.Validate(); err != nil {
		return apperror.ValidationFailed("event", err.Error())
	}
	switch {
	case ev.Collection == changefeed.CollectionPages && ev.Slug == "" && ev.Operation != changefeed.OpDelete:
		return apperror.ValidationFailed("slug", "page events need a slug")
	case ev.Collection != changefeed.CollectionPages && ev.Collection != changefeed.CollectionCategories && ev.DocumentID == "":
		return apperror.ValidationFailed("documentId", "documentId is required")
	}
	return nil
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HandleHealth answers the liveness probe.
//
// HTTP: GET /healthz
func HandleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
