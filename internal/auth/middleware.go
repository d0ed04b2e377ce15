package auth

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "auth_token"

// contextKey is an unexported type so no other package can read or shadow
// the claims stored in a request context.
type contextKey string

const claimsKey contextKey = "claims"

// RequireAuth rejects requests without a valid session with 401 and stores
// the verified claims in the context otherwise.
//
// The token is read from "Authorization: Bearer <token>" first and from the
// auth_token cookie second.
func RequireAuth(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r, issuer)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches the claims when a valid token is present and lets the
// request through as anonymous otherwise.
func OptionalAuth(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := extractClaims(r, issuer); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OwnerCheck reports whether a resolved reader is the blog owner.
type OwnerCheck func(ctx context.Context, readerID string) (bool, error)

// RequireOwner must run after RequireAuth. It answers 403 unless the subject
// is a Reader the store confirms as owner. The is_owner claim alone is not
// trusted because it is only a hint captured at login.
func RequireOwner(isOwner OwnerCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}
			subject := claims.Identity()
			if !subject.IsResolved() {
				writeForbidden(w)
				return
			}
			owner, err := isOwner(r.Context(), subject.ID)
			if err != nil || !owner {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// SubjectFromContext returns the session subject, or false for anonymous requests.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return Subject{}, false
	}
	return c.Identity(), true
}

// BearerToken returns the session token from the Authorization header or the
// session cookie, in that order.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func extractClaims(r *http.Request, issuer *Issuer) (*Claims, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, ErrInvalidToken
	}
	return issuer.Verify(token)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"forbidden","message":"owner access required"}`))
}
