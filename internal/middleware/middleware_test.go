package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	limit int
	seen  map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string) bool {
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.limit
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("done"))
	})
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{limit: 1}
	key := func(r *http.Request) string { return r.Header.Get("X-Key") }
	skip := func(r *http.Request) bool { return r.Header.Get("X-Skip") != "" }
	h := RateLimit(limiter, key, skip, slog.New(slog.NewTextHandler(io.Discard, nil)))(okHandler())

	do := func(k string, skipped bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/comments", nil)
		req.Header.Set("X-Key", k)
		if skipped {
			req.Header.Set("X-Skip", "1")
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, do("a", false).Code)

	rec := do("a", false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, do("b", false).Code, "other keys keep their quota")
	assert.Equal(t, http.StatusCreated, do("a", true).Code, "skipped requests bypass the limiter")
	assert.Equal(t, 2, limiter.seen["a"], "skipped requests are not counted")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/comments?ref=1", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	line := buf.String()
	for _, want := range []string{"request completed", "method=GET", "path=/api/comments", "status=201", "bytes=4"} {
		assert.True(t, strings.Contains(line, want), "log line %q missing %q", line, want)
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, buf.String(), "level=ERROR")
}
