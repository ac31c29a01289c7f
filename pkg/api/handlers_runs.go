package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/compare"
	"github.com/vulntrex/vulntrex/pkg/export"
	"github.com/vulntrex/vulntrex/pkg/query"
	"github.com/vulntrex/vulntrex/pkg/results"
)

// runFiles lists the run files served by handleRunFile with their
// content types.
var runFiles = map[string]string{
	storage.NormalizedFile: "application/json",
	storage.ReportFile:     "application/x-ndjson",
	storage.HitLogFile:     "application/x-ndjson",
}

// handleListRuns returns the run summaries, newest first. The index is
// used when enabled, otherwise every run is summarised from storage.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		runs []results.Summary
		err  error
	)

	if s.indexStore != nil {
		runs, err = s.indexStore.Summaries(r.Context())
	} else {
		runs, err = s.repo.Summaries(r.Context())
	}

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if runs == nil {
		runs = []results.Summary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleStats returns aggregate counts over all runs.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.indexStore != nil {
		runs, err := s.indexStore.Summaries(r.Context())
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		writeJSON(w, http.StatusOK, results.ComputeStats(runs))

		return
	}

	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleGetRun returns the normalized aggregate of a run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	data, err := s.repo.Load(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, data)
}

// handleAttempts returns one page of enriched, filtered attempts.
func (s *server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Unparseable numbers fall back to the defaults.
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := s.engine.Attempts(r.Context(), chi.URLParam(r, "runID"), query.Params{
		Page:     page,
		Limit:    limit,
		Probe:    q.Get("probe"),
		Detector: q.Get("detector"),
		HitsOnly: q.Get("hitsOnly") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.metrics.attemptQueries.Inc()

	writeJSON(w, http.StatusOK, res)
}

// handleExport returns the run's attempts as a CSV attachment. The
// document is rendered in full before anything is written so failures
// still produce a JSON error.
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	doc, err := export.Run(r.Context(), s.engine, runID)
	s.metrics.observeExport(err)

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(runID)))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(doc); err != nil {
		s.log.WithError(err).Debug("Writing export failed")
	}
}

// handleRunFile serves a stored run file. Backends that can presign
// URLs answer with a redirect instead of proxying the bytes.
func (s *server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	file := chi.URLParam(r, "file")

	contentType, ok := runFiles[file]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})

		return
	}

	if err := results.ValidateRunID(runID); err != nil {
		s.writeError(w, r, err)

		return
	}

	if presigner, ok := s.store.(storage.Presigner); ok {
		url, err := presigner.PresignRunFile(r.Context(), runID, file)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		http.Redirect(w, r, url, http.StatusFound)

		return
	}

	data, err := s.store.GetRunFile(r.Context(), runID, file)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if data == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})

		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Debug("Writing run file failed")
	}
}

// handleCompare compares the probe scores of runs a and b.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	idA := r.URL.Query().Get("a")
	idB := r.URL.Query().Get("b")

	if idA == "" || idB == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"query parameters a and b are required"})

		return
	}

	runA, err := s.repo.Load(r.Context(), idA)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	runB, err := s.repo.Load(r.Context(), idB)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, compare.Runs(runA, runB))
}
