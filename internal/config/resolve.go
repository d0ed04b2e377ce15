package config

import (
	"context"
	"fmt"
	"strings"
)

// Option document names in the options table.
const (
	OptionOAuth    = "oauth"
	OptionAI       = "ai"
	OptionComments = "commentOptions"
)

// OAuthOverrides is the owner-editable OAuth document.
type OAuthOverrides struct {
	GitHubClientID     string `json:"githubClientId"`
	GitHubClientSecret string `json:"githubClientSecret"`
}

type GitHubSettings struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

func (g GitHubSettings) Enabled() bool { return g.ClientID != "" && g.ClientSecret != "" }

type QQSettings struct {
	BrokerURL   string
	CallbackURL string
}

func (q QQSettings) Enabled() bool { return q.BrokerURL != "" }

// OAuthSettings is the effective provider configuration.
type OAuthSettings struct {
	GitHub GitHubSettings
	QQ     QQSettings
}

// ResolveOAuth is the one place OAuth credentials are merged.
// A non-blank stored override wins over the environment; a blank one falls
// through to it. Missing in both leaves the provider disabled.
func ResolveOAuth(env *Config, db OAuthOverrides) OAuthSettings {
	return OAuthSettings{
		GitHub: GitHubSettings{
			ClientID:     firstNonBlank(db.GitHubClientID, env.GitHubClientID),
			ClientSecret: firstNonBlank(db.GitHubClientSecret, env.GitHubClientSecret),
			CallbackURL:  env.GitHubCallbackURL,
		},
		QQ: QQSettings{
			BrokerURL:   env.QQBrokerURL,
			CallbackURL: env.QQCallbackURL,
		},
	}
}

// AIOptions configures the model endpoint used for comment review.
type AIOptions struct {
	EnableSummary        bool   `json:"enableSummary"`
	OpenAIEndpoint       string `json:"openAiEndpoint"`
	OpenAIPreferredModel string `json:"openAiPreferredModel"`
	OpenAIKey            string `json:"openAiKey"`
}

// Configured reports whether a model can be called at all.
func (a AIOptions) Configured() bool {
	return a.OpenAIEndpoint != "" && a.OpenAIKey != ""
}

// ResolveAI overlays the stored AI document on the environment.
func ResolveAI(env *Config, db AIOptions) AIOptions {
	return AIOptions{
		EnableSummary:        db.EnableSummary,
		OpenAIEndpoint:       firstNonBlank(db.OpenAIEndpoint, env.OpenAIEndpoint),
		OpenAIPreferredModel: firstNonBlank(db.OpenAIPreferredModel, env.OpenAIModel),
		OpenAIKey:            firstNonBlank(db.OpenAIKey, env.OpenAIKey),
	}
}

// Review modes.
const (
	ReviewBinary = "binary"
	ReviewScore  = "score"
)

const defaultReviewThreshold = 5

// CommentOptions controls spam review of new comments.
type CommentOptions struct {
	AntiSpam          bool   `json:"antiSpam"`
	AIReview          bool   `json:"aiReview"`
	AIReviewType      string `json:"aiReviewType"`
	AIReviewThreshold int    `json:"aiReviewThreshold"`
}

// ReviewEnabled reports whether new comments go through the classifier.
func (c CommentOptions) ReviewEnabled() bool { return c.AntiSpam && c.AIReview }

// ResolveCommentOptions fills defaults into the stored document.
func ResolveCommentOptions(db CommentOptions) CommentOptions {
	out := db
	if out.AIReviewType != ReviewScore {
		out.AIReviewType = ReviewBinary
	}
	if out.AIReviewThreshold <= 0 {
		out.AIReviewThreshold = defaultReviewThreshold
	}
	if out.AIReviewThreshold > 10 {
		out.AIReviewThreshold = 10
	}
	return out
}

// OptionStore loads a named JSON option document into dst.
// found is false when the document does not exist.
type OptionStore interface {
	LoadOption(ctx context.Context, name string, dst any) (found bool, err error)
}

// Resolver produces effective settings from the environment and the option store.
type Resolver struct {
	env   *Config
	store OptionStore
}

func NewResolver(env *Config, store OptionStore) *Resolver {
	return &Resolver{env: env, store: store}
}

func (r *Resolver) OAuth(ctx context.Context) (OAuthSettings, error) {
	var db OAuthOverrides
	if _, err := r.store.LoadOption(ctx, OptionOAuth, &db); err != nil {
		return OAuthSettings{}, fmt.Errorf("config: loading %s option: %w", OptionOAuth, err)
	}
	return ResolveOAuth(r.env, db), nil
}

func (r *Resolver) AI(ctx context.Context) (AIOptions, error) {
	var db AIOptions
	if _, err := r.store.LoadOption(ctx, OptionAI, &db); err != nil {
		return AIOptions{}, fmt.Errorf("config: loading %s option: %w", OptionAI, err)
	}
	return ResolveAI(r.env, db), nil
}

func (r *Resolver) Comments(ctx context.Context) (CommentOptions, error) {
	var db CommentOptions
	if _, err := r.store.LoadOption(ctx, OptionComments, &db); err != nil {
		return CommentOptions{}, fmt.Errorf("config: loading %s option: %w", OptionComments, err)
	}
	return ResolveCommentOptions(db), nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
