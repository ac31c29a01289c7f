package scanner

import "errors"

var (
	// ErrRunNotFound is returned for run ids absent from the registry.
	ErrRunNotFound = errors.New("scan not found")
	// ErrNotRunning is returned when cancelling a finished scan.
	ErrNotRunning = errors.New("scan is not running")
	// ErrInvalidRequest wraps validation failures of scan requests.
	ErrInvalidRequest = errors.New("invalid scan request")
)

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Failure messages recorded on finished scans.
const (
	ErrMsgNoReport    = "No report file generated"
	ErrMsgParseReport = "Failed to parse report"
	ErrMsgCancelled   = "Cancelled by user"
)

// ProviderREST selects the generic REST generator.
const ProviderREST = "rest"

const defaultProvider = "huggingface"

// ScanRequest describes a scan to launch.
type ScanRequest struct {
	Provider    string `json:"provider"`
	ModelName   string `json:"model_name"`
	APIKey      string `json:"api_key,omitempty"`
	Probes      string `json:"probes,omitempty"`
	Detectors   string `json:"detectors,omitempty"`
	Generations int    `json:"generations,omitempty"`
	// Seed is kept as text so that an empty value means unset.
	Seed string `json:"seed,omitempty"`
	// RestConfig holds the REST generator options as sent by the UI.
	RestConfig map[string]any `json:"restConfig,omitempty"`
}

// RunInfo is the registry record of a scan.
type RunInfo struct {
	RunID        string `json:"runId"`
	PID          int    `json:"pid"`
	Status       Status `json:"status"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime,omitempty"`
	Model        string `json:"model"`
	Probes       string `json:"probes,omitempty"`
	Detectors    string `json:"detectors,omitempty"`
	ReportPrefix string `json:"reportPrefix"`
	LogFile      string `json:"logFile"`
	ResultPath   string `json:"resultPath,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RunStatus is the status view of a scan including its log output.
type RunStatus struct {
	RunID      string `json:"runId"`
	Status     Status `json:"status"`
	Logs       string `json:"logs"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime,omitempty"`
	Error      string `json:"error,omitempty"`
	ResultPath string `json:"resultPath,omitempty"`
}

// PluginKind selects which plugin list to query.
type PluginKind string

const (
	PluginProbes    PluginKind = "probes"
	PluginDetectors PluginKind = "detectors"
)

func (k PluginKind) flag() (string, bool) {
	switch k {
	case PluginProbes:
		return "--list_probes", true
	case PluginDetectors:
		return "--list_detectors", true
	default:
		return "", false
	}
}
