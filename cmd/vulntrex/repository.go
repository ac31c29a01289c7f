package main

import (
	"context"
	"fmt"

	"github.com/vulntrex/vulntrex/pkg/api/indexstore"
	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/results"
)

// runServices are the storage-side services shared by the offline
// commands.
type runServices struct {
	repo       *results.Repository
	indexStore indexstore.Store
}

// openServices creates the run repository and, when indexing is
// enabled, connects the index store so ingests are indexed immediately.
func openServices(ctx context.Context, cfg *config.Config) (*runServices, error) {
	store, err := storage.New(log, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	svc := &runServices{repo: results.NewRepository(log, store)}

	if cfg.Indexing.Enabled {
		svc.indexStore = indexstore.NewStore(log, &cfg.Indexing.Database)

		if err := svc.indexStore.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting index store: %w", err)
		}

		svc.repo.SetSummarySink(svc.indexStore)
	}

	return svc, nil
}

func (s *runServices) Close() {
	if s.indexStore == nil {
		return
	}

	if err := s.indexStore.Stop(); err != nil {
		log.WithError(err).Warn("Index store stop error")
	}
}
