// Package middleware provides the control API's chi-compatible HTTP
// middleware: request-id propagation, API-key authentication, and
// IP-based request throttling layered in front of the domain rate
// limiter.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tomtom215/danmuhub/internal/logging"
)

// RequestID reuses an inbound X-Request-ID header or mints a new one,
// echoes it back on the response, and attaches both a request id and a
// fresh correlation id to the request context for downstream logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		ctx = logging.ContextWithCorrelationID(ctx, logging.NewCorrelationID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
