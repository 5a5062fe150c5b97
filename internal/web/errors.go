package web

// errors.go provides unified error response handling for the web layer.
// Technical errors are logged with the request ID for correlation; clients
// get a JSON body with a stable shape.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clustr-io/dataexchange/internal/exchange"
	"github.com/clustr-io/dataexchange/internal/queue"
	"github.com/clustr-io/dataexchange/internal/task"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError logs err and writes the matching JSON error response.
// Engine classification decides the status: structural import/export
// failures are client errors, capacity problems are 503, unknown errors
// are 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	s.log.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrUnknownFileFormat),
		errors.Is(err, exchange.ErrImport),
		errors.Is(err, exchange.ErrExport):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
