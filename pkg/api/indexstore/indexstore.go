package indexstore

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/results"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store provides persistence for the indexed run summaries.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context) ([]Run, error)
	ListRunIDs(ctx context.Context) ([]string, error)
	DeleteRuns(ctx context.Context, runIDs []string) error

	// UpsertSummary indexes a freshly ingested run.
	UpsertSummary(ctx context.Context, s *results.Summary) error
	// Summaries returns every indexed run, newest first.
	Summaries(ctx context.Context) ([]results.Summary, error)
}

// Compile-time interface checks.
var (
	_ Store               = (*store)(nil)
	_ results.SummarySink = (*store)(nil)
)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Run{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts a run or replaces the indexed fields of an existing
// row with the same run id.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"start_time", "end_time", "model", "model_name",
				"probe_spec", "garak_version", "has_hits",
				"attempt_count", "probe_count", "indexed_at",
			}),
		}).
		Create(run).Error; err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	return nil
}

// UpsertSummary implements results.SummarySink.
func (s *store) UpsertSummary(ctx context.Context, sum *results.Summary) error {
	return s.UpsertRun(ctx, RunFromSummary(sum, time.Now().UTC()))
}

// ListRuns returns all runs ordered by start time, newest first.
func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("start_time DESC").
		Order("run_id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// Summaries returns all indexed runs as summaries.
func (s *store) Summaries(ctx context.Context) ([]results.Summary, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]results.Summary, 0, len(runs))
	for i := range runs {
		out = append(out, runs[i].Summary())
	}

	return out, nil
}

// ListRunIDs returns just the indexed run IDs.
func (s *store) ListRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}

// DeleteRuns removes the rows of the given run IDs.
func (s *store) DeleteRuns(ctx context.Context, runIDs []string) error {
	if len(runIDs) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("run_id IN ?", runIDs).
		Delete(&Run{}).Error; err != nil {
		return fmt.Errorf("deleting runs: %w", err)
	}

	return nil
}
