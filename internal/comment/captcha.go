package comment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CaptchaVerifier checks a challenge token from an anonymous commenter.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

const turnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Turnstile verifies Cloudflare Turnstile tokens.
type Turnstile struct {
	secret   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewTurnstile(secret string, logger *slog.Logger) *Turnstile {
	return &Turnstile{
		secret:   secret,
		endpoint: turnstileURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type turnstileRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
	RemoteIP string `json:"remoteip,omitempty"`
}

type turnstileResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns false with a nil error when Cloudflare rejects the token and
// an error when Cloudflare cannot be asked.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	body, err := json.Marshal(turnstileRequest{Secret: t.secret, Response: token, RemoteIP: remoteIP})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("turnstile: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("turnstile: verifying token: %w", err)
	}
	defer resp.Body.Close()

	var out turnstileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("turnstile: decoding response: %w", err)
	}
	if !out.Success {
		t.logger.Warn("turnstile rejected token", slog.String("codes", strings.Join(out.ErrorCodes, ", ")))
	}
	return out.Success, nil
}

// NoCaptcha accepts every token. It is used when no Turnstile secret is set.
type NoCaptcha struct{}

func (NoCaptcha) Verify(context.Context, string, string) (bool, error) { return true, nil }

// Locator resolves an IP address to a coarse location label.
type Locator interface {
	Locate(ip string) (string, bool)
}

// NoLocator never resolves anything.
type NoLocator struct{}

func (NoLocator) Locate(string) (string, bool) { return "", false }
