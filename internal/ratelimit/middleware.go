package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"jobflow/internal/telemetry"
)

// Allower is satisfied by *TokenBucket.
type Allower interface {
	Allow(ctx context.Context, actor string) (bool, float64, error)
}

// Middleware rejects requests with 429 once the actor's bucket is empty.
// Safe methods pass through. When the limiter itself fails the request is
// let through and the failure logged.
func Middleware(limiter Allower, actorOf func(*http.Request) string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			actor := actorOf(r)
			allowed, remaining, err := limiter.Allow(r.Context(), actor)
			if err != nil {
				logger.Warn("rate limiter unavailable", "actor", actor, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
