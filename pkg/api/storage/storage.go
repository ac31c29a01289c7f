// Package storage keeps the files of each scan run in a backend (local
// filesystem or S3) under a runs/{run_id}/ layout.
package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/config"
)

// File names stored for every run.
const (
	NormalizedFile = "normalized.json"
	ReportFile     = "report.jsonl"
	HitLogFile     = "hitlog.jsonl"
)

// Store provides access to run files without exposing the backend.
type Store interface {
	// ListRunIDs returns the run IDs (directory names) under runs/.
	ListRunIDs(ctx context.Context) ([]string, error)

	// GetRunFile reads a file from a specific run directory.
	// Returns (nil, nil) when the file does not exist.
	GetRunFile(ctx context.Context, runID, filename string) ([]byte, error)

	// PutRunFile writes a file into a run directory, creating the
	// directory as needed and replacing any existing file.
	PutRunFile(ctx context.Context, runID, filename string, data []byte) error

	// DeleteRunFile removes a file from a run directory. Deleting a
	// missing file is not an error.
	DeleteRunFile(ctx context.Context, runID, filename string) error

	// Location describes the backend for logging.
	Location() string
}

// New creates the Store selected by cfg. S3 takes precedence when both
// backends are enabled.
func New(log logrus.FieldLogger, cfg *config.StorageConfig) (Store, error) {
	switch {
	case cfg.S3.Enabled:
		return NewS3Store(log, &cfg.S3)
	case cfg.Local.Enabled:
		return NewLocalStore(log, &cfg.Local)
	default:
		return nil, fmt.Errorf("no storage backend configured")
	}
}
