package garak

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/jsonl"
)

// summaryKey marks metadata entries inside the digest's eval block at
// every nesting level. It is never a group, probe or detector name.
const summaryKey = "_summary"

// Normalizer folds a report event stream into a RunData.
type Normalizer struct {
	log logrus.FieldLogger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(log logrus.FieldLogger) *Normalizer {
	return &Normalizer{log: log.WithField("component", "normalizer")}
}

// Normalize reads the report in a single forward pass. Lines that are
// not JSON, not objects, or do not match their declared entry type are
// skipped. It never fails; an unreadable or empty stream yields an
// aggregate with empty collections.
func (n *Normalizer) Normalize(r io.Reader) *RunData {
	b := newRunBuilder()

	var skipped int

	for line := range jsonl.Lines(r) {
		if line.Err != nil {
			skipped++

			n.log.WithError(line.Err).Debug("Skipping unreadable report line")

			continue
		}

		ev, err := DecodeEvent(line.Value)
		if err != nil {
			skipped++

			n.log.WithError(err).
				WithField("line", line.Number).
				Debug("Skipping undecodable report entry")

			continue
		}

		b.apply(ev)
	}

	n.log.WithFields(logrus.Fields{
		"run_id":   b.data.Meta.RunID,
		"attempts": len(b.data.Attempts),
		"evals":    len(b.data.Evals),
		"probes":   len(b.data.Probes),
		"skipped":  skipped,
	}).Debug("Report normalized")

	return b.data
}

// NormalizeBytes normalizes an in-memory report.
func (n *Normalizer) NormalizeBytes(report []byte) *RunData {
	return n.Normalize(bytes.NewReader(report))
}

type runBuilder struct {
	data *RunData
}

func newRunBuilder() *runBuilder {
	return &runBuilder{data: NewRunData()}
}

func (b *runBuilder) apply(ev Event) {
	switch e := ev.(type) {
	case *InitEvent:
		b.data.Meta.RunID = e.Run
		b.data.Meta.GarakVersion = e.GarakVersion
		b.data.Meta.StartTime = e.StartTime
	case *AttemptEvent:
		b.data.Attempts = append(b.data.Attempts, attemptFromEvent(e))
	case *EvalEvent:
		b.data.Evals = append(b.data.Evals, Eval{
			Probe:    e.Probe,
			Detector: e.Detector,
			Passed:   e.Passed,
			Total:    e.Total,
		})
	case *DigestEvent:
		b.applyDigest(e)
	case *CompletionEvent:
		b.data.Meta.EndTime = e.EndTime
	case *IgnoredEvent:
	}
}

func attemptFromEvent(e *AttemptEvent) Attempt {
	results := e.DetectorResults
	if results == nil {
		results = map[string][]float64{}
	}

	return Attempt{
		UUID:            e.UUID,
		Seq:             e.Seq,
		Status:          e.Status,
		Probe:           e.ProbeClassname,
		Goal:            e.Goal,
		Prompt:          e.Prompt.UserText(),
		Outputs:         OutputTexts(e.Outputs),
		DetectorResults: results,
	}
}

func (b *runBuilder) applyDigest(e *DigestEvent) {
	meta := &b.data.Meta

	meta.ModelType = firstNonEmpty(e.Meta.ModelType, e.Meta.TargetType)
	meta.ModelName = firstNonEmpty(e.Meta.ModelName, e.Meta.TargetName)
	meta.ProbeSpec = e.Meta.ProbeSpec

	// Reports cut before init still carry identity in the digest.
	if meta.RunID == "" {
		meta.RunID = e.Meta.RunUUID
	}

	if meta.GarakVersion == "" {
		meta.GarakVersion = e.Meta.GarakVersion
	}

	if meta.StartTime == "" {
		meta.StartTime = e.Meta.StartTime
	}

	b.data.Probes = append(b.data.Probes, flattenDigest(e.Eval)...)
}

// probeSummaryBlock is the "_summary" object of a probe in the digest.
type probeSummaryBlock struct {
	ProbeName     string   `json:"probe_name"`
	ProbeScore    *float64 `json:"probe_score"`
	ProbeSeverity *float64 `json:"probe_severity"`
	ProbeDescr    *string  `json:"probe_descr"`
	ProbeTier     *float64 `json:"probe_tier"`
	ProbeTags     []string `json:"probe_tags"`
}

type detectorBlock struct {
	AbsoluteScore  *float64 `json:"absolute_score"`
	AbsoluteDefcon *float64 `json:"absolute_defcon"`
	RelativeScore  *float64 `json:"relative_score"`
	RelativeDefcon *float64 `json:"relative_defcon"`
	DetectorDefcon *float64 `json:"detector_defcon"`
}

// flattenDigest walks eval -> group -> probe -> detector in document
// order and emits one summary per probe key per group, without merging.
func flattenDigest(eval json.RawMessage) []ProbeSummary {
	groups, ok := objectFields(eval)
	if !ok {
		return nil
	}

	var probes []ProbeSummary

	for _, group := range groups {
		if group.Key == summaryKey {
			continue
		}

		probeBlocks, ok := objectFields(group.Value)
		if !ok {
			continue
		}

		for _, probe := range probeBlocks {
			if probe.Key == summaryKey {
				continue
			}

			if summary, ok := flattenProbe(probe); ok {
				probes = append(probes, summary)
			}
		}
	}

	return probes
}

func flattenProbe(probe field) (ProbeSummary, bool) {
	entries, ok := objectFields(probe.Value)
	if !ok {
		return ProbeSummary{}, false
	}

	var block probeSummaryBlock

	detectors := make([]DetectorScore, 0, len(entries))

	for _, entry := range entries {
		if entry.Key == summaryKey {
			// A malformed summary leaves the probe with its key as name.
			_ = json.Unmarshal(entry.Value, &block)

			continue
		}

		var det detectorBlock
		if err := json.Unmarshal(entry.Value, &det); err != nil {
			continue
		}

		detectors = append(detectors, DetectorScore{
			DetectorName:   entry.Key,
			AbsoluteScore:  det.AbsoluteScore,
			AbsoluteDefcon: det.AbsoluteDefcon,
			RelativeScore:  det.RelativeScore,
			RelativeDefcon: det.RelativeDefcon,
			DetectorDefcon: det.DetectorDefcon,
		})
	}

	return ProbeSummary{
		ProbeName:     firstNonEmpty(block.ProbeName, probe.Key),
		ProbeScore:    block.ProbeScore,
		ProbeSeverity: block.ProbeSeverity,
		ProbeDescr:    block.ProbeDescr,
		ProbeTier:     block.ProbeTier,
		ProbeTags:     block.ProbeTags,
		Detectors:     detectors,
	}, true
}

// field is one member of a JSON object.
type field struct {
	Key   string
	Value json.RawMessage
}

// objectFields decodes a JSON object into its members in document
// order. It reports false when raw is not an object.
func objectFields(raw json.RawMessage) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false
	}

	var fields []field

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}

		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}

		fields = append(fields, field{Key: key, Value: value})
	}

	return fields, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
