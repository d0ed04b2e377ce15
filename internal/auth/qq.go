package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/blogcore/internal/model"
)

// QQProvider logs users in with QQ through an OAuth broker.
//
// The broker hosts the QQ application. It redirects the browser back to our
// callback with a one-time code, and GET {broker}/user/get?code=... returns
// the QQ profile. The broker has no separate token endpoint: the code is the
// only credential we ever see, so it is stored as the access token.
type QQProvider struct {
	brokerURL   string
	callbackURL string
	client      *http.Client
}

var _ Exchanger = (*QQProvider)(nil)

func NewQQProvider(brokerURL, callbackURL string) *QQProvider {
	return &QQProvider{
		brokerURL:   strings.TrimRight(brokerURL, "/"),
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *QQProvider) Provider() string { return model.ProviderQQ }

// AuthURL points at the broker's authorize endpoint. state rides along in the
// return URL so the callback can run the same CSRF check as GitHub.
func (p *QQProvider) AuthURL(state string) string {
	returnURL := p.callbackURL
	if state != "" {
		sep := "?"
		if strings.Contains(returnURL, "?") {
			sep = "&"
		}
		returnURL += sep + "state=" + url.QueryEscape(state)
	}
	q := url.Values{}
	q.Set("redirect", "true")
	q.Set("return_url", returnURL)
	return p.brokerURL + "/oauth/qq/authorize?" + q.Encode()
}

type qqUserResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		UserID   int64  `json:"user_id"`
		OpenID   string `json:"qq_openid"`
		Nickname string `json:"nickname"`
		Avatar   string `json:"avatar"`
		Gender   string `json:"gender"`
	} `json:"data"`
}

// Exchange resolves the broker code to a QQ profile. QQ never exposes an
// email, so Profile.Email is always empty.
func (p *QQProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	endpoint := p.brokerURL + "/user/get?code=" + url.QueryEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building QQ user request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling QQ broker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: QQ broker returned status %d", resp.StatusCode)
	}

	var body qqUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("auth: decoding QQ broker response: %w", err)
	}
	if body.Status != "success" || body.Data == nil {
		return nil, fmt.Errorf("auth: QQ broker rejected code: %s", body.Message)
	}
	if body.Data.OpenID == "" {
		return nil, fmt.Errorf("auth: QQ broker returned no openid")
	}

	return &Profile{
		Provider:    model.ProviderQQ,
		ProviderID:  body.Data.OpenID,
		Name:        body.Data.Nickname,
		Avatar:      body.Data.Avatar,
		Handle:      model.GenerateHandle(body.Data.Nickname),
		AccessToken: code,
	}, nil
}
