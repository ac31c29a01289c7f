package query

import (
	"bytes"
	"sync"

	"github.com/vulntrex/vulntrex/pkg/garak"
	"github.com/vulntrex/vulntrex/pkg/jsonl"
)

// ReportFunc returns the raw report of a run, or nil when none is kept.
type ReportFunc func() ([]byte, error)

// OutputResolver supplies output texts for attempts whose normalized
// outputs are all empty by scanning the raw report. The report is read
// at most once per resolver, and only if such an attempt is seen.
type OutputResolver struct {
	report ReportFunc

	once     sync.Once
	fallback map[string][]string
	err      error
}

// NewOutputResolver creates a resolver reading the raw report through fn.
func NewOutputResolver(fn ReportFunc) *OutputResolver {
	return &OutputResolver{report: fn}
}

// Resolve returns the outputs to show for a. Normalized outputs win when
// any of them carries text. A failed report read leaves outputs as they
// are; the read error is available from Err.
func (r *OutputResolver) Resolve(a *garak.Attempt) []string {
	if hasText(a.Outputs) || r == nil || r.report == nil {
		return a.Outputs
	}

	r.once.Do(r.load)

	if texts, ok := r.fallback[a.UUID]; ok {
		return texts
	}

	return a.Outputs
}

// Err returns the error from reading the raw report, if it was read.
func (r *OutputResolver) Err() error {
	return r.err
}

// rawAttemptOutputs is the subset of an attempt line needed to recover
// its text. Older reports name the field "generations".
type rawAttemptOutputs struct {
	EntryType   garak.EntryType  `json:"entry_type"`
	UUID        string           `json:"uuid"`
	Outputs     []*garak.Message `json:"outputs"`
	Generations []*garak.Message `json:"generations"`
}

func (r *OutputResolver) load() {
	r.fallback = map[string][]string{}

	raw, err := r.report()
	if err != nil {
		r.err = err

		return
	}

	for entry := range jsonl.Decode[rawAttemptOutputs](bytes.NewReader(raw)) {
		if entry.EntryType != garak.EntryAttempt || entry.UUID == "" {
			continue
		}

		messages := entry.Outputs
		if len(messages) == 0 {
			messages = entry.Generations
		}

		texts := garak.OutputTexts(messages)
		if !hasText(texts) {
			continue
		}

		// Later records of an attempt carry the final generations.
		r.fallback[entry.UUID] = texts
	}
}

func hasText(outputs []string) bool {
	for _, o := range outputs {
		if o != "" {
			return true
		}
	}

	return false
}
