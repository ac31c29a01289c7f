package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/garak"
	"golang.org/x/sync/errgroup"
)

const summaryConcurrency = 8

// Summary is the run list entry of a stored run.
type Summary struct {
	ID           string `json:"id"`
	StartTime    string `json:"startTime,omitempty"`
	EndTime      string `json:"endTime,omitempty"`
	Model        string `json:"model,omitempty"`
	ModelName    string `json:"modelName,omitempty"`
	ProbeSpec    string `json:"probeSpec,omitempty"`
	GarakVersion string `json:"garakVersion,omitempty"`
	HasHits      bool   `json:"hasHits"`
	AttemptCount int    `json:"attemptCount"`
	ProbeCount   int    `json:"probeCount"`
}

// Stats aggregates the stored runs.
type Stats struct {
	TotalRuns  int      `json:"totalRuns"`
	Models     []string `json:"models"`
	ProbeSpecs []string `json:"probeSpecs"`
}

// Summarize builds the list entry of a run from its aggregate and raw
// hit log. AttemptCount counts distinct attempts.
func Summarize(runID string, data *garak.RunData, hitlog []byte) *Summary {
	model := make([]string, 0, 2)
	for _, part := range []string{data.Meta.ModelType, data.Meta.ModelName} {
		if part != "" {
			model = append(model, part)
		}
	}

	seen := make(map[string]struct{}, len(data.Attempts))
	for _, a := range data.Attempts {
		seen[a.UUID] = struct{}{}
	}

	return &Summary{
		ID:           runID,
		StartTime:    data.Meta.StartTime,
		EndTime:      data.Meta.EndTime,
		Model:        strings.Join(model, " / "),
		ModelName:    data.Meta.ModelName,
		ProbeSpec:    data.Meta.ProbeSpec,
		GarakVersion: data.Meta.GarakVersion,
		HasHits:      hasContent(hitlog),
		AttemptCount: len(seen),
		ProbeCount:   len(data.Probes),
	}
}

func hasContent(raw []byte) bool {
	for line := range bytes.SplitSeq(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			return true
		}
	}

	return false
}

// RunIDs returns the ids of every run directory in storage, including
// runs still being written.
func (r *Repository) RunIDs(ctx context.Context) ([]string, error) {
	ids, err := r.store.ListRunIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return ids, nil
}

// Summary returns the list entry of one stored run.
func (r *Repository) Summary(ctx context.Context, runID string) (*Summary, error) {
	data, err := r.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	hitlog, err := r.store.GetRunFile(ctx, runID, storage.HitLogFile)
	if err != nil {
		return nil, fmt.Errorf("reading hit log: %w", err)
	}

	return Summarize(runID, data, hitlog), nil
}

// Summaries returns every stored run, newest first. Runs that are not
// ingested yet or whose normalized file cannot be read are skipped.
func (r *Repository) Summaries(ctx context.Context) ([]Summary, error) {
	ids, err := r.RunIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		summaries = make([]Summary, 0, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)

	for _, id := range ids {
		if ValidateRunID(id) != nil {
			continue
		}

		g.Go(func() error {
			s, err := r.Summary(gctx, id)
			if err != nil {
				if !errors.Is(err, ErrRunNotFound) {
					r.log.WithError(err).
						WithField("run_id", id).
						Warn("Skipping unreadable run")
				}

				return nil
			}

			mu.Lock()
			summaries = append(summaries, *s)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortSummaries(summaries)

	return summaries, nil
}

// SortSummaries orders runs by start time, newest first, then by id.
func SortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].StartTime != s[j].StartTime {
			return s[i].StartTime > s[j].StartTime
		}

		return s[i].ID < s[j].ID
	})
}

// ComputeStats aggregates summaries into distinct model names and probe
// specs, each sorted.
func ComputeStats(summaries []Summary) *Stats {
	models := make(map[string]struct{}, len(summaries))
	specs := make(map[string]struct{}, len(summaries))

	for _, s := range summaries {
		if s.ModelName != "" {
			models[s.ModelName] = struct{}{}
		}

		if s.ProbeSpec != "" {
			specs[s.ProbeSpec] = struct{}{}
		}
	}

	return &Stats{
		TotalRuns:  len(summaries),
		Models:     sortedKeys(models),
		ProbeSpecs: sortedKeys(specs),
	}
}

// Stats aggregates every stored run.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	summaries, err := r.Summaries(ctx)
	if err != nil {
		return nil, err
	}

	return ComputeStats(summaries), nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
