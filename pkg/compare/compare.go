// Package compare diffs the digest scores of two runs.
package compare

import (
	"maps"
	"slices"

	"github.com/vulntrex/vulntrex/pkg/garak"
)

// Comparison is the result of comparing run A against run B.
type Comparison struct {
	RunA   garak.RunMeta     `json:"runA"`
	RunB   garak.RunMeta     `json:"runB"`
	Probes []ProbeComparison `json:"probes"`
}

// ProbeComparison pairs the probe score of both runs. Scores are nil when
// the run does not report the probe, and Delta is B minus A when both do.
type ProbeComparison struct {
	ProbeName string               `json:"probeName"`
	ScoreA    *float64             `json:"scoreA"`
	ScoreB    *float64             `json:"scoreB"`
	Delta     *float64             `json:"delta"`
	Detectors []DetectorComparison `json:"detectors"`
}

// DetectorComparison pairs the absolute detector score of both runs.
type DetectorComparison struct {
	DetectorName string   `json:"detectorName"`
	ScoreA       *float64 `json:"scoreA"`
	ScoreB       *float64 `json:"scoreB"`
	Delta        *float64 `json:"delta"`
}

// Runs compares the probe summaries of a and b. Probe and detector names
// are the sorted union of both runs. When a run lists a probe more than
// once, its last entry is used.
func Runs(a, b *garak.RunData) *Comparison {
	probesA := probeIndex(a.Probes)
	probesB := probeIndex(b.Probes)

	names := unionSorted(probesA, probesB)
	out := make([]ProbeComparison, 0, len(names))

	for _, name := range names {
		pa, pb := probesA[name], probesB[name]

		pc := ProbeComparison{ProbeName: name}

		var detsA, detsB map[string]*garak.DetectorScore

		if pa != nil {
			pc.ScoreA = pa.ProbeScore
			detsA = detectorIndex(pa.Detectors)
		}

		if pb != nil {
			pc.ScoreB = pb.ProbeScore
			detsB = detectorIndex(pb.Detectors)
		}

		pc.Delta = delta(pc.ScoreA, pc.ScoreB)

		detNames := unionSorted(detsA, detsB)
		pc.Detectors = make([]DetectorComparison, 0, len(detNames))

		for _, dn := range detNames {
			dc := DetectorComparison{DetectorName: dn}

			if d := detsA[dn]; d != nil {
				dc.ScoreA = d.AbsoluteScore
			}

			if d := detsB[dn]; d != nil {
				dc.ScoreB = d.AbsoluteScore
			}

			dc.Delta = delta(dc.ScoreA, dc.ScoreB)
			pc.Detectors = append(pc.Detectors, dc)
		}

		out = append(out, pc)
	}

	return &Comparison{
		RunA:   a.Meta,
		RunB:   b.Meta,
		Probes: out,
	}
}

func probeIndex(probes []garak.ProbeSummary) map[string]*garak.ProbeSummary {
	idx := make(map[string]*garak.ProbeSummary, len(probes))
	for i := range probes {
		idx[probes[i].ProbeName] = &probes[i]
	}

	return idx
}

func detectorIndex(dets []garak.DetectorScore) map[string]*garak.DetectorScore {
	idx := make(map[string]*garak.DetectorScore, len(dets))
	for i := range dets {
		idx[dets[i].DetectorName] = &dets[i]
	}

	return idx
}

func unionSorted[V any](a, b map[string]V) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}

	for k := range b {
		set[k] = struct{}{}
	}

	return slices.Sorted(maps.Keys(set))
}

func delta(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}

	d := *b - *a

	return &d
}
