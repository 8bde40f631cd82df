// Package api implements the control HTTP API: auto/direct/
// edited/manual import, cross-provider search, task control, the rate
// limit status feed, and the operator config endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/danmuhub/internal/logging"
)

// Envelope is the standard JSON response shape for every endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody carries a machine-readable code plus a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries response bookkeeping.
type Meta struct {
	RequestID  string `json:"requestId,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// responder writes envelopes for one request, timing from construction.
type responder struct {
	w     http.ResponseWriter
	r     *http.Request
	start time.Time
}

func newResponder(w http.ResponseWriter, r *http.Request) *responder {
	return &responder{w: w, r: r, start: time.Now()}
}

func (rw *responder) meta() *Meta {
	return &Meta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		DurationMs: time.Since(rw.start).Milliseconds(),
	}
}

// JSON writes a successful envelope with the given status code.
func (rw *responder) JSON(status int, data interface{}) {
	rw.write(status, Envelope{Success: true, Data: data, Meta: rw.meta()})
}

// Accepted writes a 202 with {message, taskId}-shaped data, the common
// import-submission response.
func (rw *responder) Accepted(taskID, message string) {
	rw.JSON(http.StatusAccepted, map[string]string{"taskId": taskID, "message": message})
}

// Error writes a failed envelope.
func (rw *responder) Error(status int, code, message string) {
	rw.write(status, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: message}, Meta: rw.meta()})
}

func (rw *responder) BadRequest(message string) { rw.Error(http.StatusBadRequest, "BAD_REQUEST", message) }
func (rw *responder) NotFound(message string)   { rw.Error(http.StatusNotFound, "NOT_FOUND", message) }
func (rw *responder) Conflict(message string)   { rw.Error(http.StatusConflict, "CONFLICT", message) }
func (rw *responder) Internal(message string)   { rw.Error(http.StatusInternalServerError, "INTERNAL_ERROR", message) }

func (rw *responder) write(status int, env Envelope) {
	rw.w.Header().Set("Content-Type", "application/json")
	rw.w.WriteHeader(status)
	_ = json.NewEncoder(rw.w).Encode(env)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
