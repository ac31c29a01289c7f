package query

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/garak"
)

// Source provides the persisted files of a run. Load reports a missing
// run with an error the caller can match; HitLog and RawReport treat
// missing files as empty.
type Source interface {
	Load(ctx context.Context, runID string) (*garak.RunData, error)
	HitLog(ctx context.Context, runID string) ([]garak.HitLogEntry, error)
	RawReport(ctx context.Context, runID string) ([]byte, error)
}

// Result is one page of enriched attempts.
type Result struct {
	Attempts []EnrichedAttempt `json:"attempts"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// Engine answers attempt queries against a Source. It keeps no state
// between calls; every query re-reads the run.
type Engine struct {
	log logrus.FieldLogger
	src Source
}

// NewEngine creates a new Engine.
func NewEngine(log logrus.FieldLogger, src Source) *Engine {
	return &Engine{
		log: log.WithField("component", "query"),
		src: src,
	}
}

// Attempts returns the requested page of deduplicated, hit-enriched and
// filtered attempts. Output fallback is applied to the returned page only.
func (e *Engine) Attempts(ctx context.Context, runID string, p Params) (*Result, error) {
	p = p.Normalized()

	rows, err := e.rows(ctx, runID)
	if err != nil {
		return nil, err
	}

	filtered := Filter(rows, p)
	page := Paginate(filtered, p.Page, p.Limit)

	e.resolveOutputs(ctx, runID, page)

	return &Result{
		Attempts: page,
		Total:    len(filtered),
		Page:     p.Page,
		Limit:    p.Limit,
	}, nil
}

// Enriched returns every deduplicated, hit-enriched attempt of the run
// with outputs resolved.
func (e *Engine) Enriched(ctx context.Context, runID string) ([]EnrichedAttempt, error) {
	rows, err := e.rows(ctx, runID)
	if err != nil {
		return nil, err
	}

	e.resolveOutputs(ctx, runID, rows)

	return rows, nil
}

func (e *Engine) rows(ctx context.Context, runID string) ([]EnrichedAttempt, error) {
	data, err := e.src.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	hits, err := e.src.HitLog(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading hit log: %w", err)
	}

	return Enrich(Dedupe(data.Attempts), hits), nil
}

func (e *Engine) resolveOutputs(ctx context.Context, runID string, rows []EnrichedAttempt) {
	resolver := NewOutputResolver(func() ([]byte, error) {
		return e.src.RawReport(ctx, runID)
	})

	for i := range rows {
		rows[i].Outputs = resolver.Resolve(&rows[i].Attempt)
	}

	if err := resolver.Err(); err != nil {
		e.log.WithError(err).
			WithField("run_id", runID).
			Warn("Failed to read raw report for output fallback")
	}
}
