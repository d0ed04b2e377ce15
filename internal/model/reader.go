// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
	"unicode"
)

// Reader is a site visitor with a resolved identity.
//
// A Reader is created in one of two ways:
//   - from an OAuth profile snapshot when a provisional login skips binding
//   - as an anonymous placeholder when someone comments with a name and email
//
// The blog owner is the Reader with IsOwner set. At most one Reader can hold
// that flag; the store enforces it with a partial unique index.
//
// EmailVerified is tri-state: nil means the provider never told us.
type Reader struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Handle        string    `json:"handle"`
	Image         string    `json:"image,omitempty"`
	IsOwner       bool      `json:"isOwner"`
	EmailVerified *bool     `json:"emailVerified,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// GenerateHandle derives a URL-safe handle from a display name.
//
// Letters and digits are lowercased and kept, as are '-' and '_'. Everything
// else is dropped, then leading and trailing separators are trimmed.
// Handles are not unique.
func GenerateHandle(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_")
}
