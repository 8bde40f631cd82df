package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// IPThrottleConfig controls the coarse per-IP request ceiling applied in
// front of the control API, ahead of the domain RateLimiter that governs
// provider calls.
type IPThrottleConfig struct {
	RequestLimit int
	WindowSize   time.Duration
}

// DefaultIPThrottle is a generous ceiling meant to catch runaway clients,
// not to police legitimate polling (e.g. GET /rate-limit/status).
var DefaultIPThrottle = IPThrottleConfig{RequestLimit: 300, WindowSize: time.Minute}

// IPThrottle builds a sliding-window, per-IP request limiter.
func IPThrottle(cfg IPThrottleConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		cfg = DefaultIPThrottle
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestLimit))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"TOO_MANY_REQUESTS","message":"too many requests"}}`))
		}),
	)
}
