// Package api serves the scan dashboard HTTP API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/api/indexer"
	"github.com/vulntrex/vulntrex/pkg/api/indexstore"
	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/query"
	"github.com/vulntrex/vulntrex/pkg/results"
	"github.com/vulntrex/vulntrex/pkg/scanner"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       storage.Store
	repo        *results.Repository
	engine      *query.Engine
	indexStore  indexstore.Store
	indexer     indexer.Indexer
	scanner     scanner.Manager
	metrics     *metrics
	uploadLimit int64
	httpServer  *http.Server
	wg          sync.WaitGroup
	done        chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg)
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		metrics: newMetrics(),
		done:    make(chan struct{}),
	}
}

// Start wires the storage, index and scanner services and starts the
// HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// The first indexing pass can be slow, so it starts after the API
	// is reachable.
	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and its services.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.scanner != nil {
		if err := s.scanner.Stop(); err != nil {
			s.log.WithError(err).Warn("Scanner stop error")
		}
	}

	if s.indexStore != nil {
		if err := s.indexStore.Stop(); err != nil {
			return fmt.Errorf("stopping index store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// prepare builds every service the router depends on without starting
// any background goroutine.
func (s *server) prepare(ctx context.Context) error {
	limit, err := s.cfg.Server.MaxUploadBytes()
	if err != nil {
		return err
	}

	s.uploadLimit = limit

	store, err := storage.New(s.log, &s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}

	s.store = store
	s.repo = results.NewRepository(s.log, store)
	s.engine = query.NewEngine(s.log, s.repo)

	s.log.WithField("location", store.Location()).Info("Run storage ready")

	if s.cfg.Indexing.Enabled {
		if err := s.prepareIndexing(ctx); err != nil {
			return fmt.Errorf("preparing indexing: %w", err)
		}
	}

	if s.cfg.Scanner.Enabled {
		s.scanner = scanner.NewManager(s.log, &s.cfg.Scanner, &countingIngester{
			next:    s.repo,
			metrics: s.metrics,
		})

		s.log.Info("Scanner enabled")
	}

	return nil
}

// prepareIndexing creates the index store and indexer. The indexer is
// started separately once the HTTP server is listening.
func (s *server) prepareIndexing(ctx context.Context) error {
	interval, err := s.cfg.Indexing.IntervalDuration()
	if err != nil {
		return err
	}

	s.indexStore = indexstore.NewStore(s.log, &s.cfg.Indexing.Database)

	if err := s.indexStore.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	s.repo.SetSummarySink(s.indexStore)

	s.indexer = indexer.NewIndexer(
		s.log, s.indexStore, s.repo, interval, s.cfg.Indexing.Concurrency,
	)

	s.log.Info("Indexing service enabled")

	return nil
}

// countingIngester records scan ingests in the metrics.
type countingIngester struct {
	next    scanner.Ingester
	metrics *metrics
}

func (c *countingIngester) Ingest(
	ctx context.Context, req results.IngestRequest,
) (*results.IngestResult, error) {
	res, err := c.next.Ingest(ctx, req)
	c.metrics.observeIngest(sourceScan, err)

	return res, err
}
