package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
)

// MetricsMiddleware observes request latency keyed by chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.ObserveHTTP(r.Method, routeLabel(r), rec.status, time.Since(start))
	})
}

// routeLabel keeps ticket and wallet ids out of the label set; requests no
// route matched share one label.
func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "unmatched"
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}
