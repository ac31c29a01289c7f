package indexstore

import (
	"time"

	"github.com/vulntrex/vulntrex/pkg/results"
)

// Run represents a single indexed scan run in the database.
type Run struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"not null;uniqueIndex:idx_runs_run_id"`
	StartTime    string `gorm:"index"`
	EndTime      string
	Model        string
	ModelName    string `gorm:"index"`
	ProbeSpec    string `gorm:"index"`
	GarakVersion string
	HasHits      bool
	AttemptCount int
	ProbeCount   int

	IndexedAt time.Time
}

// RunFromSummary builds an index row from a run summary.
func RunFromSummary(s *results.Summary, indexedAt time.Time) *Run {
	return &Run{
		RunID:        s.ID,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Model:        s.Model,
		ModelName:    s.ModelName,
		ProbeSpec:    s.ProbeSpec,
		GarakVersion: s.GarakVersion,
		HasHits:      s.HasHits,
		AttemptCount: s.AttemptCount,
		ProbeCount:   s.ProbeCount,
		IndexedAt:    indexedAt,
	}
}

// Summary converts the row back into a run summary.
func (r *Run) Summary() results.Summary {
	return results.Summary{
		ID:           r.RunID,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Model:        r.Model,
		ModelName:    r.ModelName,
		ProbeSpec:    r.ProbeSpec,
		GarakVersion: r.GarakVersion,
		HasHits:      r.HasHits,
		AttemptCount: r.AttemptCount,
		ProbeCount:   r.ProbeCount,
	}
}
