package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/api/indexstore"
	"github.com/vulntrex/vulntrex/pkg/results"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of runs indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// RunSource lists stored runs and summarises them.
type RunSource interface {
	RunIDs(ctx context.Context) ([]string, error)
	Summary(ctx context.Context, runID string) (*results.Summary, error)
}

// PassResult describes one indexing pass.
type PassResult struct {
	Indexed int
	Removed int
	Skipped int
}

// Indexer is a background service that periodically scans storage
// and upserts run summaries into the index store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error

	// IndexOnce runs a single synchronous pass.
	IndexOnce(ctx context.Context) (*PassResult, error)
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       indexstore.Store
	source      RunSource
	interval    time.Duration
	concurrency int
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	source RunSource,
	interval time.Duration,
	concurrency int,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		source:      source,
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval. The first pass is
// asynchronous so the caller (the API server) is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	res, err := idx.IndexOnce(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")

		return
	}

	idx.log.WithFields(logrus.Fields{
		"indexed":  res.Indexed,
		"removed":  res.Removed,
		"skipped":  res.Skipped,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Indexing pass completed")
}

// IndexOnce indexes runs present in storage but not in the index and
// drops index rows whose run is gone from storage. Runs without a
// normalized file yet are skipped and retried on the next pass.
func (idx *indexer) IndexOnce(ctx context.Context) (*PassResult, error) {
	storageIDs, err := idx.source.RunIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing storage run IDs: %w", err)
	}

	indexedIDs, err := idx.store.ListRunIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexed run IDs: %w", err)
	}

	storageSet := make(map[string]struct{}, len(storageIDs))
	for _, id := range storageIDs {
		storageSet[id] = struct{}{}
	}

	indexedSet := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = struct{}{}
	}

	var stale []string

	for _, id := range indexedIDs {
		if _, ok := storageSet[id]; !ok {
			stale = append(stale, id)
		}
	}

	var tasks []string

	for _, id := range storageIDs {
		if _, ok := indexedSet[id]; !ok {
			tasks = append(tasks, id)
		}
	}

	idx.log.WithFields(logrus.Fields{
		"storage_runs": len(storageIDs),
		"indexed_runs": len(indexedIDs),
		"new_runs":     len(tasks),
		"stale_runs":   len(stale),
	}).Debug("Scanning storage")

	res := &PassResult{}

	if len(stale) > 0 {
		idx.dbMu.Lock()
		err := idx.store.DeleteRuns(ctx, stale)
		idx.dbMu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("removing stale runs: %w", err)
		}

		res.Removed = len(stale)
	}

	if len(tasks) == 0 {
		return res, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed, skipped atomic.Int64

	for _, runID := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexRun(gCtx, runID); err != nil {
				skipped.Add(1)

				entry := idx.log.WithError(err).WithField("run_id", runID)
				if errors.Is(err, results.ErrRunNotFound) || errors.Is(err, results.ErrInvalidRunID) {
					entry.Debug("Skipping run")
				} else {
					entry.Warn("Failed to index run")
				}

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("indexing runs: %w", err)
	}

	res.Indexed = int(indexed.Load())
	res.Skipped = int(skipped.Load())

	return res, nil
}

func (idx *indexer) indexRun(ctx context.Context, runID string) error {
	sum, err := idx.source.Summary(ctx, runID)
	if err != nil {
		return err
	}

	// Serialize DB writes to avoid SQLite BUSY errors under concurrency.
	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.store.UpsertSummary(ctx, sum); err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	return nil
}
