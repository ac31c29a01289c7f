// Package query turns a normalized run and its hit log into the attempt
// rows served to the dashboard and the CSV export.
package query

import (
	"github.com/vulntrex/vulntrex/pkg/garak"
)

// EnrichedAttempt is an attempt joined with at most one hit. An attempt
// with several hits appears once per hit.
type EnrichedAttempt struct {
	garak.Attempt

	HasHit     bool     `json:"hasHit"`
	HitlogData *HitData `json:"hitlogData,omitempty"`
}

// HitData is the part of a hit entry carried onto an enriched row.
type HitData struct {
	Goal        string   `json:"goal"`
	Triggers    []string `json:"triggers"`
	Score       float64  `json:"score"`
	Detector    string   `json:"detector"`
	OutputIndex int      `json:"outputIndex"`
}

// Dedupe collapses attempts sharing a UUID to the record with the highest
// status. The surviving record takes the position of the first record
// seen for that UUID; on equal status the earlier record is kept.
func Dedupe(attempts []garak.Attempt) []garak.Attempt {
	index := make(map[string]int, len(attempts))
	out := make([]garak.Attempt, 0, len(attempts))

	for _, a := range attempts {
		i, seen := index[a.UUID]
		if !seen {
			index[a.UUID] = len(out)
			out = append(out, a)

			continue
		}

		if a.Status > out[i].Status {
			out[i] = a
		}
	}

	return out
}

// Enrich joins hits onto attempts by attempt id. A completed attempt with
// k matching hits yields k rows flagged HasHit; every other attempt
// yields a single row without hit data, whatever hits reference it.
func Enrich(attempts []garak.Attempt, hits []garak.HitLogEntry) []EnrichedAttempt {
	byAttempt := make(map[string][]*garak.HitLogEntry, len(hits))
	for i := range hits {
		h := &hits[i]
		byAttempt[h.AttemptID] = append(byAttempt[h.AttemptID], h)
	}

	rows := make([]EnrichedAttempt, 0, len(attempts))

	for _, a := range attempts {
		matched := byAttempt[a.UUID]

		if a.Status != garak.StatusComplete || len(matched) == 0 {
			rows = append(rows, EnrichedAttempt{Attempt: a})

			continue
		}

		for _, h := range matched {
			rows = append(rows, EnrichedAttempt{
				Attempt:    a,
				HasHit:     true,
				HitlogData: hitData(h),
			})
		}
	}

	return rows
}

func hitData(h *garak.HitLogEntry) *HitData {
	triggers := []string(h.Triggers)
	if triggers == nil {
		triggers = []string{}
	}

	return &HitData{
		Goal:        h.Goal,
		Triggers:    triggers,
		Score:       h.Score,
		Detector:    h.Detector,
		OutputIndex: h.OutputIndex(),
	}
}

// Detector returns the hit detector of the row, or "".
func (e *EnrichedAttempt) Detector() string {
	if e.HitlogData == nil {
		return ""
	}

	return e.HitlogData.Detector
}
