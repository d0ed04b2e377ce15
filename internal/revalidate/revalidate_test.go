package revalidate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testSalt   = "test-salt"
)

var fixedNow = time.Unix(1700000000, 0)

type captured struct {
	path string
	body []byte
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":false,"message":"nope"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(baseURL+"/", testSecret, testSalt, logger,
		WithClock(func() time.Time { return fixedNow }))
}

func TestSign(t *testing.T) {
	sig := Sign(testSecret, testSalt, 1700000000, "posts")
	assert.Equal(t, "a27681651da4dcf7eb6fa5d573027835045e7e58bc93eb58b43c92cc88fac9cd", sig)
	assert.Len(t, Sign("", "", 0, ""), 64)
	assert.NotEqual(t, sig, Sign(testSecret, testSalt, 1700000001, "posts"))
}

func TestNotify_RequestBody(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		notify func(*Client) error
	}{
		{"notify_tag", func(c *Client) error { return c.NotifyTag(context.Background(), "posts") }},
		{"notify_path", func(c *Client) error { return c.NotifyPath(context.Background(), "/posts/hello") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestServer(t, http.StatusOK)

			require.NoError(t, tt.notify(newTestClient(srv.URL)))
			assert.Equal(t, "/api/revalidate", got.path)
			g.Assert(t, tt.name, got.body)
		})
	}
}

func TestNotify_Non2xxIsError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized)

	err := newTestClient(srv.URL).NotifyTag(context.Background(), "home")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "tag home")
}

func TestNotify_Unreachable(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK)
	srv.Close()

	err := newTestClient(srv.URL).NotifyPath(context.Background(), "/")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	signed := Request{Tag: "posts", Timestamp: fixedNow.Unix(), Signature: Sign(testSecret, testSalt, fixedNow.Unix(), "posts")}

	tests := []struct {
		name string
		req  Request
		now  time.Time
		want bool
	}{
		{"valid", signed, fixedNow, true},
		{"within window", signed, fixedNow.Add(4 * time.Minute), true},
		{"stale", signed, fixedNow.Add(6 * time.Minute), false},
		{"future", signed, fixedNow.Add(-6 * time.Minute), false},
		{"tampered tag", Request{Tag: "notes", Timestamp: signed.Timestamp, Signature: signed.Signature}, fixedNow, false},
		{"no target", Request{Timestamp: signed.Timestamp, Signature: signed.Signature}, fixedNow, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(testSecret, testSalt, tt.req, tt.now))
		})
	}
}

func TestVerify_AcceptsClientOutput(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	require.NoError(t, newTestClient(srv.URL).NotifyPath(context.Background(), "/notes/3"))

	var req Request
	require.NoError(t, json.Unmarshal(got.body, &req))
	assert.True(t, Verify(testSecret, testSalt, req, fixedNow))
}
