package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/fsutil"
)

// Compile-time interface check.
var _ Store = (*localStore)(nil)

type localStore struct {
	log     logrus.FieldLogger
	runsDir string
	owner   *fsutil.OwnerConfig
}

// NewLocalStore creates a Store backed by {data_dir}/runs on the local
// filesystem.
func NewLocalStore(log logrus.FieldLogger, cfg *config.LocalStorageConfig) (Store, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing storage owner: %w", err)
	}

	return &localStore{
		log:     log.WithField("component", "storage-local"),
		runsDir: filepath.Join(cfg.DataDir, "runs"),
		owner:   owner,
	}, nil
}

// Location returns the runs directory.
func (s *localStore) Location() string {
	return s.runsDir
}

// ListRunIDs returns run directory names under {data_dir}/runs/, sorted.
func (s *localStore) ListRunIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// GetRunFile reads {data_dir}/runs/{runID}/{filename}.
// Returns (nil, nil) when the file does not exist.
func (s *localStore) GetRunFile(
	_ context.Context, runID, filename string,
) ([]byte, error) {
	p := filepath.Join(s.runsDir, runID, filename)

	data, err := os.ReadFile(p) //nolint:gosec // run ids are validated by callers
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading file %s: %w", p, err)
	}

	return data, nil
}

// PutRunFile atomically writes {data_dir}/runs/{runID}/{filename}.
func (s *localStore) PutRunFile(
	_ context.Context, runID, filename string, data []byte,
) error {
	runDir := filepath.Join(s.runsDir, runID)

	if err := fsutil.MkdirAll(s.runsDir, 0o755, s.owner); err != nil {
		return fmt.Errorf("creating runs directory: %w", err)
	}

	if err := fsutil.MkdirAll(runDir, 0o755, s.owner); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	p := filepath.Join(runDir, filename)

	if err := fsutil.WriteFileAtomic(p, data, 0o644, s.owner); err != nil {
		return fmt.Errorf("writing file %s: %w", p, err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id": runID,
		"file":   filename,
		"bytes":  len(data),
	}).Debug("Stored run file")

	return nil
}

// DeleteRunFile removes {data_dir}/runs/{runID}/{filename}.
func (s *localStore) DeleteRunFile(
	_ context.Context, runID, filename string,
) error {
	p := filepath.Join(s.runsDir, runID, filename)

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %s: %w", p, err)
	}

	return nil
}
