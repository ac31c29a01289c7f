package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vulntrex/vulntrex/pkg/export"
	"github.com/vulntrex/vulntrex/pkg/fsutil"
	"github.com/vulntrex/vulntrex/pkg/query"
)

var (
	exportRunID string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's attempts as CSV",
	Long: `Write the deduplicated, hit-enriched attempts of a stored run as CSV.
Without --out the document goes to stdout; with --out set to a directory
the default garak-run-<id>.csv file name is used.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportRunID, "run-id", "", "Run to export (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file or directory")

	_ = exportCmd.MarkFlagRequired("run-id")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()

	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	doc, err := export.Run(ctx, query.NewEngine(log, svc.repo), exportRunID)
	if err != nil {
		return fmt.Errorf("exporting run %s: %w", exportRunID, err)
	}

	if exportOut == "" {
		_, err := os.Stdout.Write(doc)

		return err
	}

	path := exportOut
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, export.Filename(exportRunID))
	}

	if err := fsutil.WriteFileAtomic(path, doc, 0o644, nil); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	log.WithField("path", path).Info("Export written")

	return nil
}
