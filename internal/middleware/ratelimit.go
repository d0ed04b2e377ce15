package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

// Limiter decides whether one more request for key fits the quota.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateLimit rejects requests over quota with 429. key picks the bucket; skip
// exempts a request entirely (signed-in readers, for example).
func RateLimit(limiter Limiter, key func(*http.Request) string, skip func(*http.Request) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			k := key(r)
			if !limiter.Allow(r.Context(), k) {
				logger.Warn("rate limited", slog.String("key", k), slog.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limited","message":"too many requests, try again later"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
