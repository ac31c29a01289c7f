// Package results stores scan runs and reads them back: ingesting a raw
// report and hit log, loading the normalized aggregate, and summarising
// every stored run.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/garak"
	"github.com/vulntrex/vulntrex/pkg/query"
)

var (
	// ErrRunNotFound is returned when a run has no normalized file.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRunID is returned for ids that are not a safe path segment.
	ErrInvalidRunID = errors.New("invalid run id")
)

// SummarySink receives the summary of every ingested run.
type SummarySink interface {
	UpsertSummary(ctx context.Context, s *Summary) error
}

// Compile-time interface check.
var _ query.Source = (*Repository)(nil)

// Repository reads and writes runs in a storage backend.
type Repository struct {
	log        logrus.FieldLogger
	store      storage.Store
	normalizer *garak.Normalizer
	sink       SummarySink
}

// NewRepository creates a Repository over store.
func NewRepository(log logrus.FieldLogger, store storage.Store) *Repository {
	return &Repository{
		log:        log.WithField("component", "results"),
		store:      store,
		normalizer: garak.NewNormalizer(log),
	}
}

// SetSummarySink registers a sink notified after each ingest.
func (r *Repository) SetSummarySink(sink SummarySink) {
	r.sink = sink
}

// Store returns the underlying storage backend.
func (r *Repository) Store() storage.Store {
	return r.store
}

// Load returns the normalized aggregate of a run. A run without a
// normalized file yields ErrRunNotFound.
func (r *Repository) Load(ctx context.Context, runID string) (*garak.RunData, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}

	raw, err := r.store.GetRunFile(ctx, runID, storage.NormalizedFile)
	if err != nil {
		return nil, fmt.Errorf("reading normalized run: %w", err)
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	data := garak.NewRunData()
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("decoding normalized run %s: %w", runID, err)
	}

	return data, nil
}

// HitLog returns the hit entries of a run. A run without a hit log has
// no hits.
func (r *Repository) HitLog(ctx context.Context, runID string) ([]garak.HitLogEntry, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}

	raw, err := r.store.GetRunFile(ctx, runID, storage.HitLogFile)
	if err != nil {
		return nil, fmt.Errorf("reading hit log: %w", err)
	}

	if raw == nil {
		return []garak.HitLogEntry{}, nil
	}

	return garak.ReadHitLog(bytes.NewReader(raw)), nil
}

// RawReport returns the raw report kept for a run, or nil.
func (r *Repository) RawReport(ctx context.Context, runID string) ([]byte, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}

	raw, err := r.store.GetRunFile(ctx, runID, storage.ReportFile)
	if err != nil {
		return nil, fmt.Errorf("reading raw report: %w", err)
	}

	return raw, nil
}
