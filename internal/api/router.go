package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/danmuhub/internal/middleware"
)

// Router builds the full chi mux: global middleware stack, the control
// API under no prefix, webhook endpoints, and /metrics.
func (s *Server) Router(auth *middleware.APIKeyAuth) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.IPThrottle(middleware.DefaultIPThrottle))

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/{source}", s.handleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/import/auto", s.handleImportAuto)
		r.Get("/search", s.handleSearch)
		r.Get("/episodes", s.handleEpisodes)
		r.Post("/import/direct", s.handleImportDirect)
		r.Post("/import/edited", s.handleImportEdited)
		r.Post("/import/url", s.handleImportURL)
		r.Post("/import/xml", s.handleImportXML)

		r.Get("/rate-limit/status", s.handleRateLimitStatus)

		r.Post("/tasks/{id}/abort", s.handleTaskAbort)
		r.Post("/tasks/{id}/pause", s.handleTaskPause)
		r.Post("/tasks/{id}/resume", s.handleTaskResume)
		r.Get("/tasks/{id}/execution", s.handleTaskExecution)
		r.Get("/tasks", s.handleTaskList)
		r.Delete("/tasks/{id}", s.handleTaskDelete)

		r.Get("/config", s.handleConfigList)
		r.Put("/config/{key}", s.handleConfigSet)
	})

	return r
}
