package model

import (
	"strings"
	"time"
)

// Supported OAuth providers.
const (
	ProviderGitHub = "github"
	ProviderQQ     = "qq"
)

// ProviderAccount links one external OAuth identity to an owner.
//
// OwnerID is either a Reader ID or, while the login is provisional, the
// account's own ID. Binding and skip-bind rewrite it; nothing else does.
//
// The OAuth* fields are a snapshot of the provider profile taken at the most
// recent login. They are what a provisional subject shows before onboarding and
// what a new Reader is seeded from on skip-bind.
//
// (Provider, ProviderAccountID) is unique in the store.
type ProviderAccount struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"ownerId"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	AccessToken       string    `json:"-"` // sealed at rest, never serialized
	Scope             string    `json:"scope,omitempty"`
	OAuthName         string    `json:"oauthName"`
	OAuthEmail        string    `json:"oauthEmail"`
	OAuthAvatar       string    `json:"oauthAvatar,omitempty"`
	OAuthHandle       string    `json:"oauthHandle"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// PlaceholderEmail returns the provider-scoped stand-in address used when a
// provider gives us no email.
func PlaceholderEmail(provider, providerAccountID string) string {
	return providerAccountID + "@" + provider + ".oauth"
}

// IsPlaceholderEmail reports whether email is a synthesized provider address.
// Placeholders never take part in email matching.
func IsPlaceholderEmail(email string) bool {
	return strings.HasSuffix(email, "@"+ProviderGitHub+".oauth") ||
		strings.HasSuffix(email, "@"+ProviderQQ+".oauth")
}

// MatchableEmail reports whether email can be used to link accounts.
func MatchableEmail(email string) bool {
	return strings.TrimSpace(email) != "" && !IsPlaceholderEmail(email)
}

// Provisional reports whether the account is not yet tied to a Reader.
func (a *ProviderAccount) Provisional() bool {
	return a.OwnerID == a.ID
}
