// Package revalidate tells the frontend to drop its rendered pages.
//
// Every request is signed: the message is secret, unix timestamp, salt and the
// tag or path concatenated in that order, and the signature is the hex
// HMAC-SHA256 of the message keyed by the secret. The frontend rejects
// timestamps outside a five minute window.
package revalidate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds one revalidation request.
const DefaultTimeout = 10 * time.Second

// Window is how far a timestamp may drift before Verify rejects it.
const Window = 5 * time.Minute

// Notifier is what the change feed depends on.
//
//go:generate mockgen -destination=../mocks/mock_notifier.go -package=mocks . Notifier
type Notifier interface {
	NotifyTag(ctx context.Context, tag string) error
	NotifyPath(ctx context.Context, path string) error
}

// Request is the JSON body posted to {base}/api/revalidate. Exactly one of
// Tag and Path is set.
type Request struct {
	Tag       string `json:"tag,omitempty"`
	Path      string `json:"path,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Client posts signed revalidation requests.
type Client struct {
	endpoint string
	secret   string
	salt     string
	http     *http.Client
	now      func() time.Time
	logger   *slog.Logger
}

var _ Notifier = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client for the frontend at baseURL.
func NewClient(baseURL, secret, salt string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/revalidate",
		secret:   secret,
		salt:     salt,
		http:     &http.Client{Timeout: DefaultTimeout},
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) NotifyTag(ctx context.Context, tag string) error {
	ts := c.now().Unix()
	return c.post(ctx, Request{Tag: tag, Timestamp: ts, Signature: Sign(c.secret, c.salt, ts, tag)})
}

func (c *Client) NotifyPath(ctx context.Context, path string) error {
	ts := c.now().Unix()
	return c.post(ctx, Request{Path: path, Timestamp: ts, Signature: Sign(c.secret, c.salt, ts, path)})
}

func (c *Client) post(ctx context.Context, body Request) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("revalidate: encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("revalidate: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate: posting %s: %w", target(body), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revalidate: %s rejected with status %d: %s", target(body), resp.StatusCode, bytes.TrimSpace(detail))
	}

	c.logger.Debug("revalidated", slog.String("target", target(body)))
	return nil
}

func target(r Request) string {
	if r.Tag != "" {
		return "tag " + r.Tag
	}
	return "path " + r.Path
}

// Sign returns the hex signature for value at unix time ts.
func Sign(secret, salt string, ts int64, value string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(secret + strconv.FormatInt(ts, 10) + salt + value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a request the way the frontend does: the timestamp must be
// within Window of now and the signature must match in constant time.
func Verify(secret, salt string, r Request, now time.Time) bool {
	if secret == "" || r.Signature == "" || (r.Tag == "" && r.Path == "") {
		return false
	}
	drift := now.Sub(time.Unix(r.Timestamp, 0))
	if drift > Window || drift < -Window {
		return false
	}
	value := r.Tag
	if value == "" {
		value = r.Path
	}
	want := Sign(secret, salt, r.Timestamp, value)
	return hmac.Equal([]byte(want), []byte(r.Signature))
}

// Nop is a Notifier that does nothing. It stands in when no frontend URL is
// configured.
type Nop struct{}

func (Nop) NotifyTag(context.Context, string) error  { return nil }
func (Nop) NotifyPath(context.Context, string) error { return nil }
