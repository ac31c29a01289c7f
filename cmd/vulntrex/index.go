package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vulntrex/vulntrex/pkg/api/indexer"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a single indexing pass",
	Long: `Index every stored run missing from the index database and remove
index rows of runs no longer in storage. Requires indexing to be enabled
in the config.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Indexing.Enabled {
		return errors.New("indexing is not enabled in config")
	}

	ctx := context.Background()

	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	interval, err := cfg.Indexing.IntervalDuration()
	if err != nil {
		return err
	}

	start := time.Now()

	res, err := indexer.NewIndexer(
		log, svc.indexStore, svc.repo, interval, cfg.Indexing.Concurrency,
	).IndexOnce(ctx)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	log.WithFields(logrus.Fields{
		"indexed":  res.Indexed,
		"removed":  res.Removed,
		"skipped":  res.Skipped,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Indexing pass completed")

	return nil
}
