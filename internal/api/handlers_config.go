package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type configEntry struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// handleConfigList implements GET /config: every operator-editable key
// known at startup, with its current (or default) value.
func (s *Server) handleConfigList(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	entries := make([]configEntry, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		value, err := s.configStore.Get(r.Context(), d.Key, d.Default)
		if err != nil {
			rw.Internal(err.Error())
			return
		}
		entries = append(entries, configEntry{Key: d.Key, Kind: d.Kind, Description: d.Description, Value: value})
	}
	rw.JSON(http.StatusOK, entries)
}

type configSetBody struct {
	Value string `json:"value"`
}

// handleConfigSet implements PUT /config/{key}: reject any key not in the
// known descriptor set so an operator cannot write an unbounded key space
// into the store.
func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	key := chi.URLParam(r, "key")

	var known bool
	for _, d := range s.descriptors {
		if d.Key == key {
			known = true
			break
		}
	}
	if !known {
		rw.NotFound("unknown config key " + key)
		return
	}

	var body configSetBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if err := s.configStore.Set(r.Context(), key, body.Value); err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "updated"})
}
