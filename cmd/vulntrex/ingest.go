package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vulntrex/vulntrex/pkg/results"
)

var (
	ingestReport string
	ingestHitLog string
	ingestName   string
	ingestRunID  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a scan report into run storage",
	Long: `Normalize a garak report.jsonl and store it, together with an
optional hitlog.jsonl, as a run. The run id is taken from the report,
then from --name, then from the report file name.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestReport, "report", "", "Path to the report.jsonl file (required)")
	ingestCmd.Flags().StringVar(&ingestHitLog, "hitlog", "", "Path to the hitlog.jsonl file")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Name used for the run id when the report has none")
	ingestCmd.Flags().StringVar(&ingestRunID, "run-id", "", "Force the stored run id")

	_ = ingestCmd.MarkFlagRequired("report")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	report, err := os.ReadFile(ingestReport)
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}

	var hitlog []byte

	if ingestHitLog != "" {
		hitlog, err = os.ReadFile(ingestHitLog)
		if err != nil {
			return fmt.Errorf("reading hit log: %w", err)
		}
	}

	name := ingestName
	if name == "" {
		name = filepath.Base(ingestReport)
	}

	ctx := context.Background()

	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.repo.Ingest(ctx, results.IngestRequest{
		RunID:    ingestRunID,
		NameHint: name,
		Report:   report,
		HitLog:   hitlog,
	})
	if err != nil {
		return fmt.Errorf("ingesting report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"attempts": res.Summary.AttemptCount,
		"probes":   res.Summary.ProbeCount,
		"has_hits": res.Summary.HasHits,
	}).Info("Run ingested")

	fmt.Println(res.RunID)

	return nil
}
