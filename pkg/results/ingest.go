package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/garak"
)

// IngestRequest carries the files of one scan run.
type IngestRequest struct {
	// RunID forces the stored id. When empty the report's run id is
	// used, then NameHint, then a random UUID.
	RunID string
	// NameHint is typically the uploaded report's file name.
	NameHint string
	Report   []byte
	// HitLog is optional.
	HitLog []byte
}

// IngestResult describes a stored run.
type IngestResult struct {
	RunID   string         `json:"runId"`
	Summary *Summary       `json:"summary"`
	Data    *garak.RunData `json:"-"`
}

// Ingest normalizes the report and stores normalized.json, report.jsonl
// and, when given, hitlog.jsonl under the resolved run id. Storing an id
// that already exists replaces its files.
func (r *Repository) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if len(req.Report) == 0 {
		return nil, errors.New("report is empty")
	}

	if req.RunID != "" {
		if err := ValidateRunID(req.RunID); err != nil {
			return nil, err
		}
	}

	data := r.normalizer.NormalizeBytes(req.Report)

	runID := resolveRunID(req.RunID, data.Meta.RunID, req.NameHint)

	normalized, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding normalized run: %w", err)
	}

	if err := r.store.PutRunFile(ctx, runID, storage.ReportFile, req.Report); err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}

	if len(req.HitLog) > 0 {
		if err := r.store.PutRunFile(ctx, runID, storage.HitLogFile, req.HitLog); err != nil {
			return nil, fmt.Errorf("storing hit log: %w", err)
		}
	} else if err := r.store.DeleteRunFile(ctx, runID, storage.HitLogFile); err != nil {
		// A hit log left from an earlier ingest of this id would be
		// joined onto the new attempts.
		return nil, fmt.Errorf("removing stale hit log: %w", err)
	}

	// Written last: its presence marks the run as complete.
	if err := r.store.PutRunFile(ctx, runID, storage.NormalizedFile, normalized); err != nil {
		return nil, fmt.Errorf("storing normalized run: %w", err)
	}

	summary := Summarize(runID, data, req.HitLog)

	if r.sink != nil {
		if err := r.sink.UpsertSummary(ctx, summary); err != nil {
			r.log.WithError(err).
				WithField("run_id", runID).
				Warn("Failed to index ingested run")
		}
	}

	r.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"attempts": len(data.Attempts),
		"probes":   len(data.Probes),
		"hitlog":   len(req.HitLog) > 0,
	}).Info("Run ingested")

	return &IngestResult{RunID: runID, Summary: summary, Data: data}, nil
}

func resolveRunID(forced, fromReport, nameHint string) string {
	if forced != "" {
		return forced
	}

	if id := SanitizeRunID(fromReport); id != "" {
		return id
	}

	if id := SanitizeRunID(stripExt(filepath.Base(nameHint))); id != "" {
		return id
	}

	return uuid.NewString()
}

// stripExt removes the report suffixes the scanner uses, e.g.
// "garak.abc.report.jsonl" -> "garak.abc".
func stripExt(name string) string {
	for _, suffix := range []string{".report.jsonl", ".hitlog.jsonl", ".jsonl", ".json"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}

	return strings.TrimSuffix(name, filepath.Ext(name))
}
