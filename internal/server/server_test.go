package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/blogcore/internal/auth"
	"github.com/sakif/blogcore/internal/cache"
	"github.com/sakif/blogcore/internal/config"
	"github.com/sakif/blogcore/internal/model"
)

// ============================================================
// Fixtures
// ============================================================

func testConfig() *config.Config {
	return &config.Config{
		Port:          8080,
		DBPath:        ":memory:",
		PublicURL:     "http://api.test",
		FrontendURL:   "http://blog.test",
		JWTSecret:     "0123456789abcdef0123456789abcdef",
		CacheCapacity: 16,
		CacheTTL:      time.Minute,
		ReviewWorkers: 1,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// ownerToken creates the first Reader, which becomes the owner, and signs a
// session for it.
func ownerToken(t *testing.T, s *Server) string {
	t.Helper()
	r := &model.Reader{Name: "Owner", Email: "owner@example.com"}
	require.NoError(t, s.db.CreateReader(context.Background(), r, true))
	require.True(t, r.IsOwner)

	token, err := s.issuer.Issue(auth.Resolved(r.ID), true)
	require.NoError(t, err)
	return token
}

func do(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

// ============================================================
// Routing and access control
// ============================================================

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestServer_AdminRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	owner := ownerToken(t, s)

	provisional, err := s.issuer.Issue(auth.Provisional("acct-1"), false)
	require.NoError(t, err)

	guest := &model.Reader{Name: "Guest", Email: "guest@example.com"}
	require.NoError(t, s.db.CreateReader(context.Background(), guest, true))
	require.False(t, guest.IsOwner)
	reader, err := s.issuer.Issue(auth.Resolved(guest.ID), false)
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no session", "", http.StatusUnauthorized},
		{"provisional session", provisional, http.StatusForbidden},
		{"plain reader", reader, http.StatusForbidden},
		{"owner", owner, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(s, http.MethodGet, "/api/admin/cache/stats", tt.token, "")
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestServer_MeRequiresSession(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/api/me", "", "").Code)

	rr := do(s, http.MethodGet, "/api/me", ownerToken(t, s), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "owner@example.com")
}

func TestServer_UnknownProvider(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, http.MethodGet, "/auth/gitlab/login", "", "")
	assert.GreaterOrEqual(t, rr.Code, http.StatusBadRequest)
}

// ============================================================
// Comments end to end
// ============================================================

func TestServer_CommentLifecycle(t *testing.T) {
	s := newTestServer(t)
	owner := ownerToken(t, s)

	rr := do(s, http.MethodPost, "/api/comments", "",
		`{"ref":"p1","refType":"posts","text":"first!","author":"Ann","mail":"ann@example.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		Data model.Comment `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.Equal(t, "#1", created.Data.Key)
	assert.Equal(t, model.CommentUnread, created.Data.State)

	rr = do(s, http.MethodGet, "/api/comments?ref=p1&refType=posts", owner, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ann@example.com")

	rr = do(s, http.MethodPut, "/api/admin/comments/"+created.Data.ID+"/state", owner, `{"state":"spam"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(s, http.MethodGet, "/api/comments?ref=p1&refType=posts", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "first!")
}

// ============================================================
// Change feed
// ============================================================

func TestServer_ChangeInvalidatesCache(t *testing.T) {
	s := newTestServer(t)
	owner := ownerToken(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	s.cache.Set(cache.PostKey("p1"), []byte(`{"title":"old"}`))
	s.cache.Set(cache.PostKey("p2"), []byte(`{"title":"other"}`))

	rr := do(s, http.MethodPost, "/api/admin/changes", owner,
		`{"operation":"update","collection":"posts","documentId":"p1"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	assert.Eventually(t, func() bool {
		_, ok := s.cache.Get(cache.PostKey("p1"))
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, ok := s.cache.Get(cache.PostKey("p2"))
	assert.True(t, ok)
}

func TestNew_RejectsBadSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
