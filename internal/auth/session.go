// Package auth issues and verifies session tokens and talks to OAuth providers.
//
// SESSION MODEL:
// A session token names a Subject, which is one of two things:
//
//	Provisional(id)  an OAuth login that has not been tied to a Reader yet.
//	                 id is the provider account the login came from.
//	Resolved(id)     a Reader.
//
// The kind travels in the token, so handlers never have to guess whether a
// subject id points at a Reader row.
//
// Tokens are HS256 JWTs that live for seven days. There is no server-side
// session store and no revocation; logging out clears the cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is how long an issued token stays valid.
const SessionTTL = 7 * 24 * time.Hour

const issuerName = "blogcore"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
)

// SubjectKind tells a provisional subject apart from a resolved Reader.
type SubjectKind string

const (
	KindProvisional SubjectKind = "provisional"
	KindReader      SubjectKind = "reader"
)

// Subject is who a session belongs to.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// Provisional returns the subject for an OAuth login with no Reader yet.
func Provisional(id string) Subject { return Subject{Kind: KindProvisional, ID: id} }

// Resolved returns the subject for an existing Reader.
func Resolved(readerID string) Subject { return Subject{Kind: KindReader, ID: readerID} }

func (s Subject) IsProvisional() bool { return s.Kind == KindProvisional }
func (s Subject) IsResolved() bool    { return s.Kind == KindReader }

// Valid reports whether the subject has a known kind and a non-empty id.
func (s Subject) Valid() bool {
	return s.ID != "" && (s.Kind == KindProvisional || s.Kind == KindReader)
}

func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

// Claims is the token payload. "sub" holds the subject id and "kind" its kind.
// IsOwner is a hint captured at issue time; authorization re-checks the store
// where it matters.
type Claims struct {
	jwt.RegisteredClaims
	Kind    SubjectKind `json:"kind"`
	IsOwner bool        `json:"is_owner"`
}

// Identity returns the tagged subject carried by the claims.
func (c *Claims) Identity() Subject {
	return Subject{Kind: c.Kind, ID: c.RegisteredClaims.Subject}
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithClock replaces time.Now. Tests use it to move past expiry without sleeping.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// WithTTL overrides SessionTTL.
func WithTTL(d time.Duration) IssuerOption {
	return func(i *Issuer) { i.ttl = d }
}

// NewIssuer creates an Issuer. The secret must be at least 16 characters.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	i := &Issuer{secret: []byte(secret), ttl: SessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for subject. Apart from the clock the output is
// deterministic in its inputs.
func (i *Issuer) Issue(subject Subject, isOwner bool) (string, error) {
	if !subject.Valid() {
		return "", fmt.Errorf("auth: cannot issue token for subject %q", subject)
	}
	now := i.now()

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    issuerName,
		},
		Kind:    subject.Kind,
		IsOwner: isOwner,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, algorithm and expiry and returns the claims.
//
// Expiry is checked twice: once by the jwt library and once more against the
// issuer's own clock, so a token is never accepted past exp even if the
// library's leeway rules change.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !c.Identity().Valid() {
		return nil, fmt.Errorf("%w: missing or unknown subject", ErrInvalidToken)
	}
	if i.IsExpired(c) {
		return nil, ErrExpiredToken
	}
	return c, nil
}

// IsExpired reports whether the claims are past exp by the issuer's clock.
func (i *Issuer) IsExpired(c *Claims) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !i.now().Before(c.ExpiresAt.Time)
}
