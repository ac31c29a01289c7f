package garak

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/vulntrex/vulntrex/pkg/jsonl"
)

// HitLogEntry is one detector-confirmed hit. AttemptID references
// Attempt.UUID; an attempt may have any number of hits.
type HitLogEntry struct {
	Goal                 string          `json:"goal"`
	Prompt               json.RawMessage `json:"prompt,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	Triggers             Triggers        `json:"triggers"`
	Score                float64         `json:"score"`
	RunID                string          `json:"run_id"`
	AttemptID            string          `json:"attempt_id"`
	AttemptSeq           int             `json:"attempt_seq"`
	AttemptIdx           *int            `json:"attempt_idx,omitempty"`
	Generator            string          `json:"generator"`
	Probe                string          `json:"probe"`
	Detector             string          `json:"detector"`
	GenerationsPerPrompt int             `json:"generations_per_prompt"`
}

// OutputIndex returns the position of the generation that triggered the
// hit, defaulting to the first.
func (h *HitLogEntry) OutputIndex() int {
	if h.AttemptIdx == nil || *h.AttemptIdx < 0 {
		return 0
	}

	return *h.AttemptIdx
}

// Triggers is the trigger keyword list of a hit. The scanner writes a
// list of strings, a single string, or null depending on the detector.
type Triggers []string

// UnmarshalJSON accepts a list of strings, a string, or null. Non-string
// list members are rendered with their JSON text.
func (t *Triggers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = nil

		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*t = Triggers{s}

		return nil
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}

		out := make(Triggers, 0, len(items))

		for _, item := range items {
			var s string
			if json.Unmarshal(item, &s) == nil {
				out = append(out, s)

				continue
			}

			out = append(out, string(item))
		}

		*t = out

		return nil
	default:
		*t = Triggers{string(data)}

		return nil
	}
}

// ReadHitLog parses hit entries from r. Malformed lines and lines that
// are not hit objects are dropped.
func ReadHitLog(r io.Reader) []HitLogEntry {
	hits := make([]HitLogEntry, 0, 16)
	for h := range jsonl.Decode[HitLogEntry](r) {
		hits = append(hits, h)
	}

	return hits
}
