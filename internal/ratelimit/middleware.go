package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/briefvault/briefvault-api/internal/httpmw"
)

// Limit wraps a handler with an admission check under the named policy.
// Rejected requests get 429 with a Retry-After hint and never reach the
// handler; admitted requests pass through with the remaining budget noted
// in X-RateLimit-Remaining.
func (g *Gate) Limit(policyName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if g.keyFunc != nil {
				key = g.keyFunc(r)
			}
			if key == "" {
				key = httpmw.ClientIPFromContext(r.Context())
			}
			if key == "" {
				key = r.RemoteAddr
			}

			d := g.Check(r.Context(), key, policyName)

			if !d.Admitted {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too many requests"}`))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up so clients never retry before the window
// actually resets. Minimum of 1 keeps the header meaningful.
func retryAfterSeconds(d Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
