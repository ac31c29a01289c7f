package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vulntrex/vulntrex/pkg/results"
	"github.com/vulntrex/vulntrex/pkg/scanner"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and answered with a generic message.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, results.ErrRunNotFound), errors.Is(err, scanner.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})
	case errors.Is(err, results.ErrInvalidRunID):
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid run id"})
	case errors.Is(err, scanner.ErrNotRunning):
		writeJSON(w, http.StatusBadRequest, errorResponse{"run is not running"})
	case errors.Is(err, scanner.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	default:
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal server error"})
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public feature configuration for the UI.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"basic_enabled": s.cfg.Server.BasicAuth.Enabled,
		},
		"storage": map[string]any{
			"s3":    s.cfg.Storage.S3.Enabled,
			"local": !s.cfg.Storage.S3.Enabled && s.cfg.Storage.Local.Enabled,
		},
		"indexing":         s.indexStore != nil,
		"scanner":          s.scanner != nil,
		"max_upload_bytes": s.uploadLimit,
	})
}
