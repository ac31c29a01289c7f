package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vulntrex/vulntrex/pkg/scanner"
)

// maxScanRequestBytes bounds the JSON body of a scan request.
const maxScanRequestBytes = 1 << 20

type startScanResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId"`
}

// handleStartScan launches a scan.
func (s *server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req scanner.ScanRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	info, err := s.scanner.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	provider := req.Provider
	if provider == "" {
		provider = "default"
	}

	s.metrics.scans.WithLabelValues(provider).Inc()

	writeJSON(w, http.StatusOK, startScanResponse{Success: true, RunID: info.RunID})
}

// handleListScans returns every known scan, newest first.
func (s *server) handleListScans(w http.ResponseWriter, r *http.Request) {
	runs, err := s.scanner.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if runs == nil {
		runs = []scanner.RunInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"scans": runs})
}

// handleScanStatus returns a scan's status and log output.
func (s *server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.scanner.Status(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, st)
}

// handleCancelScan kills a running scan.
func (s *server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if err := s.scanner.Cancel(r.Context(), chi.URLParam(r, "runID")); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleListPlugins returns the scanner's probe or detector names.
func (s *server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	items, err := s.scanner.ListPlugins(
		r.Context(), scanner.PluginKind(chi.URLParam(r, "kind")),
	)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if items == nil {
		items = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
