package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is the storage readiness probe; both the Postgres and the
// in-memory store satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	redis   redis.Cmdable
	timeout time.Duration
}

func NewHealthHandler(store Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{store: store, redis: redis, timeout: time.Second}
}

// Live handles GET /health/live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /health/ready
// The store must answer; Redis is only probed when the service was started
// with it, since the idempotency cache degrades to the database without it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{}
	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		RespondError(w, r, http.StatusServiceUnavailable, "health/store-unavailable", "store unavailable")
		return
	}
	checks["store"] = time.Since(start).String()

	if h.redis != nil {
		start = time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/redis-unavailable", "redis unavailable")
			return
		}
		checks["redis"] = time.Since(start).String()
	}

	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
