package auth

import (
	"context"
	"fmt"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/config"
	"github.com/sakif/blogcore/internal/model"
)

// SettingsFunc returns the effective OAuth settings for this request.
type SettingsFunc func(ctx context.Context) (config.OAuthSettings, error)

// Providers builds an Exchanger per request from the current settings, so a
// credential change made by the owner applies without a restart.
type Providers struct {
	settings SettingsFunc
}

func NewProviders(settings SettingsFunc) *Providers {
	return &Providers{settings: settings}
}

// Get returns the exchanger for name. Unknown or unconfigured providers are
// validation errors.
func (p *Providers) Get(ctx context.Context, name string) (Exchanger, error) {
	switch name {
	case model.ProviderGitHub, model.ProviderQQ:
	default:
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", name))
	}

	s, err := p.settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: resolving OAuth settings: %w", err)
	}

	switch name {
	case model.ProviderGitHub:
		if !s.GitHub.Enabled() {
			return nil, apperror.ValidationFailed("provider", "github login is not configured")
		}
		return NewGitHubProvider(s.GitHub.ClientID, s.GitHub.ClientSecret, s.GitHub.CallbackURL), nil
	default:
		if !s.QQ.Enabled() {
			return nil, apperror.ValidationFailed("provider", "qq login is not configured")
		}
		return NewQQProvider(s.QQ.BrokerURL, s.QQ.CallbackURL), nil
	}
}
