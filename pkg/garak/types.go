package garak

// StatusComplete is the attempt status the scanner assigns once all
// generations and detectors have run. Other values are opaque.
const StatusComplete = 2

// RunData is the normalized form of one scan report, persisted as
// normalized.json next to the raw files.
type RunData struct {
	Meta     RunMeta        `json:"meta"`
	Attempts []Attempt      `json:"attempts"`
	Evals    []Eval         `json:"evals"`
	Probes   []ProbeSummary `json:"probes"`
}

// RunMeta identifies the run and its target.
type RunMeta struct {
	RunID        string `json:"runId"`
	GarakVersion string `json:"garakVersion,omitempty"`
	StartTime    string `json:"startTime,omitempty"`
	EndTime      string `json:"endTime,omitempty"`
	ModelType    string `json:"modelType,omitempty"`
	ModelName    string `json:"modelName,omitempty"`
	ProbeSpec    string `json:"probeSpec,omitempty"`
}

// Attempt is one attempt record as logged, without deduplication.
type Attempt struct {
	UUID            string               `json:"uuid"`
	Seq             int                  `json:"seq"`
	Status          int                  `json:"status"`
	Probe           string               `json:"probe"`
	Goal            string               `json:"goal"`
	Prompt          string               `json:"prompt"`
	Outputs         []string             `json:"outputs"`
	DetectorResults map[string][]float64 `json:"detectorResults"`
}

// Eval is a pass/total count for a probe and detector pair.
type Eval struct {
	Probe    string `json:"probe"`
	Detector string `json:"detector"`
	Passed   int    `json:"passed"`
	Total    int    `json:"total"`
}

// ProbeSummary is one probe entry of the digest. A probe listed under
// several groups yields one summary per group.
type ProbeSummary struct {
	ProbeName     string          `json:"probeName"`
	ProbeScore    *float64        `json:"probeScore,omitempty"`
	ProbeSeverity *float64        `json:"probeSeverity,omitempty"`
	ProbeDescr    *string         `json:"probeDescr,omitempty"`
	ProbeTier     *float64        `json:"probeTier,omitempty"`
	ProbeTags     []string        `json:"probeTags,omitempty"`
	Detectors     []DetectorScore `json:"detectors"`
}

// DetectorScore holds the digest grading of one detector for a probe.
// Scores are on a 0-1 scale, defcon values are small integer tiers.
type DetectorScore struct {
	DetectorName   string   `json:"detectorName"`
	AbsoluteScore  *float64 `json:"absoluteScore,omitempty"`
	AbsoluteDefcon *float64 `json:"absoluteDefcon,omitempty"`
	RelativeScore  *float64 `json:"relativeScore,omitempty"`
	RelativeDefcon *float64 `json:"relativeDefcon,omitempty"`
	DetectorDefcon *float64 `json:"detectorDefcon,omitempty"`
}

// NewRunData returns an aggregate with empty, non-nil collections.
func NewRunData() *RunData {
	return &RunData{
		Attempts: []Attempt{},
		Evals:    []Eval{},
		Probes:   []ProbeSummary{},
	}
}

// Empty reports whether the run holds neither attempts nor probes.
func (d *RunData) Empty() bool {
	return len(d.Attempts) == 0 && len(d.Probes) == 0
}
