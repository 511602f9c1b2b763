package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/so2vaso3-web/passve-sub001/internal/api/problem"
)

// PublicRateLimiter limits unauthenticated callers, the payment webhook in
// practice, per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(rps, "client IP")),
	)
}

// AuthRateLimiter limits authenticated callers per user id so buyers behind
// one NAT do not starve each other.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(rps, "user")),
	)
}

func limitExceeded(rps int, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", strconv.Itoa(1))
		problem.WriteExtended(w, r, http.StatusTooManyRequests, problem.Type("rate-limit/exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			fmt.Sprintf("more than %d requests per second for this %s", rps, scope),
			map[string]any{"limit_rps": rps})
	}
}
