package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleWebhook accepts any of the four normalized media-server sources at
// /webhook/{source}. Plex's payload needs the request Content-Type
// prepended so the dispatcher can recover the multipart boundary.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	rw := newResponder(w, r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}

	if source == "plex" {
		body = append([]byte(r.Header.Get("Content-Type")+"\r\n\r\n"), body...)
	}

	if err := s.dispatcher.Handle(r.Context(), source, body); err != nil {
		s.log.Error().Err(err).Str("source", source).Msg("webhook handling failed")
		rw.BadRequest(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
