package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/blogcore/internal/model"
)

// Profile is a provider user normalised to the fields identity resolution needs.
//
// Email is whatever the provider returned and may be empty. It is never
// filled with a placeholder, so an empty email can never match a Reader.
type Profile struct {
	Provider    string
	ProviderID  string
	Name        string
	Email       string
	Avatar      string
	Handle      string
	AccessToken string
	Scope       string
}

// SnapshotEmail is the address stored on the account snapshot: the real email
// or a provider-scoped placeholder.
func (p Profile) SnapshotEmail() string {
	if p.Email != "" {
		return p.Email
	}
	return model.PlaceholderEmail(p.Provider, p.ProviderID)
}

// Exchanger turns an authorization code into a Profile. Implementations call
// the provider and nothing else; they never touch the store.
type Exchanger interface {
	Provider() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

const githubUserURL = "https://api.github.com/user"

// GitHubUser is the part of GitHub's /user response we read.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty when hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

// GitHubProvider runs the GitHub authorization code flow.
type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

var _ Exchanger = (*GitHubProvider)(nil)

// NewGitHubProvider requests read:user and user:email.
// callbackURL must match the OAuth App's registered callback exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return newGitHubProvider(clientID, clientSecret, callbackURL, github.Endpoint, githubUserURL)
}

func newGitHubProvider(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, userURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		userURL: userURL,
	}
}

func (p *GitHubProvider) Provider() string { return model.ProviderGitHub }

// AuthURL returns the GitHub authorization page URL carrying state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the code for a token, then the token for the user profile.
// The display name falls back to the login when the user has none set.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}

	resp, err := p.config.Client(ctx, oauthToken).Get(p.userURL)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var ghUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}
	scope, _ := oauthToken.Extra("scope").(string)

	return &Profile{
		Provider:    model.ProviderGitHub,
		ProviderID:  strconv.FormatInt(ghUser.ID, 10),
		Name:        name,
		Email:       ghUser.Email,
		Avatar:      ghUser.AvatarURL,
		Handle:      ghUser.Login,
		AccessToken: oauthToken.AccessToken,
		Scope:       scope,
	}, nil
}
