package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/auth"
	"github.com/sakif/blogcore/internal/comment"
	"github.com/sakif/blogcore/internal/model"
)

// CommentService is the comment service as the routes use it.
type CommentService interface {
	Create(ctx context.Context, viewer comment.Viewer, in comment.CreateInput) (*model.Comment, error)
	List(ctx context.Context, viewer comment.Viewer, ref, refType string) ([]model.CommentTree, error)
	SetState(ctx context.Context, id string, state model.CommentState) error
}

// ReaderLookup loads the Reader behind a resolved session.
type ReaderLookup interface {
	GetReader(ctx context.Context, id string) (*model.Reader, error)
}

var _ CommentService = (*comment.Service)(nil)

// CommentHandler lists and creates comments. Both routes run behind
// OptionalAuth: a resolved session comments as its Reader, everyone else
// (provisional sessions included) as an anonymous name and email.
type CommentHandler struct {
	comments CommentService
	readers  ReaderLookup
	logger   *slog.Logger
}

func NewCommentHandler(comments CommentService, readers ReaderLookup, logger *slog.Logger) *CommentHandler {
	return &CommentHandler{comments: comments, readers: readers, logger: logger}
}

// HandleList returns the comment tree on one post, note or page.
//
// HTTP: GET /api/comments?ref=<id>&refType=<posts|notes|pages>
func (h *CommentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	tree, err := h.comments.List(r.Context(), viewer, q.Get("ref"), q.Get("refType"))
	if err != nil {
		writeError(w, err)
		return
	}

	if !viewer.IsOwner() {
		redact(tree)
	}
	writeData(w, http.StatusOK, tree)
}

type createCommentRequest struct {
	Ref          string `json:"ref"`
	RefType      string `json:"refType"`
	Text         string `json:"text"`
	Parent       string `json:"parent"`
	URL          string `json:"url"`
	Author       string `json:"author"`
	Mail         string `json:"mail"`
	IsWhispers   bool   `json:"isWhispers"`
	CaptchaToken string `json:"captchaToken"`
}

// HandleCreate stores a new comment or reply.
//
// HTTP: POST /api/comments
// REQUEST BODY: {"ref": "...", "refType": "posts", "text": "...", "parent": "...",
// "author": "...", "mail": "...", "captchaToken": "..."}
//
// author, mail and captchaToken are only read for anonymous callers.
func (h *CommentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.comments.Create(r.Context(), viewer, comment.CreateInput{
		Ref:          req.Ref,
		RefType:      req.RefType,
		Text:         req.Text,
		Parent:       req.Parent,
		URL:          req.URL,
		Author:       req.Author,
		Mail:         req.Mail,
		IsWhispers:   req.IsWhispers,
		CaptchaToken: req.CaptchaToken,
		IP:           ClientIP(r),
		Agent:        r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

type stateRequest struct {
	State string `json:"state"`
}

// HandleSetState moderates one comment.
//
// HTTP: PUT /api/admin/comments/{id}/state
// Auth: Owner
// REQUEST BODY: {"state": "spam"}
func (h *CommentHandler) HandleSetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, ok := model.ParseCommentState(req.State)
	if !ok {
		writeError(w, apperror.ValidationFailed("state", "state must be unread, read, spam or pending"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.comments.SetState(r.Context(), id, state); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("comment moderated", slog.String("commentID", id), slog.String("state", state.String()))
	writeJSON(w, http.StatusNoContent, nil)
}

// viewer resolves the caller. A session naming a Reader that no longer exists
// is rejected rather than silently treated as anonymous.
func (h *CommentHandler) viewer(r *http.Request) (comment.Viewer, error) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok || !subject.IsResolved() {
		return comment.Anonymous, nil
	}
	reader, err := h.readers.GetReader(r.Context(), subject.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return comment.Anonymous, apperror.Unauthorized("session reader no longer exists")
		}
		return comment.Anonymous, err
	}
	return comment.Viewer{Reader: reader}, nil
}

// redact strips fields only the owner may see.
func redact(tree []model.CommentTree) {
	for i := range tree {
		tree[i].Mail = ""
		tree[i].IP = ""
		tree[i].Agent = ""
		redact(tree[i].Replies)
	}
}

// ClientIP is the request's remote address without the port. Run chi's
// RealIP middleware first to honour proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
