package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

func (s *Server) providerNames() []string {
	all := s.scrapers.All()
	names := make([]string, 0, len(all))
	for _, src := range all {
		names = append(names, src.ProviderName())
	}
	return names
}

// handleRateLimitStatus implements GET /rate-limit/status. With
// ?stream=true it upgrades to a one-per-second Server-Sent Events feed
// instead of a single snapshot, for an operator dashboard to poll live.
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "true" {
		s.streamRateLimitStatus(w, r)
		return
	}

	rw := newResponder(w, r)
	status, err := s.limiter.Status(r.Context(), s.providerNames())
	if err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, status)
}

func (s *Server) streamRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"streaming unsupported"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	names := s.providerNames()
	for {
		status, err := s.limiter.Status(r.Context(), names)
		if err == nil {
			payload, _ := json.Marshal(status)
			if _, writeErr := w.Write([]byte("data: " + string(payload) + "\n\n")); writeErr != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
