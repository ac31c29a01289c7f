package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

// apiKeyEnv maps providers to the environment variable their API key is
// read from.
var apiKeyEnv = map[string]string{
	"openai":                   "OPENAI_API_KEY",
	"huggingface.InferenceAPI": "HF_INFERENCE_TOKEN",
	"replicate":                "REPLICATE_API_TOKEN",
	"cohere":                   "COHERE_API_KEY",
	"groq":                     "GROQ_API_KEY",
	"nim":                      "NIM_API_KEY",
}

// ReportPrefix is the report prefix passed to the scanner for runID.
func ReportPrefix(runID string) string {
	return "garak_" + runID
}

// Validate checks the request and fills the default provider.
func (r *ScanRequest) Validate() error {
	r.Provider = strings.TrimSpace(r.Provider)
	if r.Provider == "" {
		r.Provider = defaultProvider
	}

	if r.Provider == ProviderREST {
		if len(r.RestConfig) == 0 {
			return fmt.Errorf("%w: REST configuration is missing", ErrInvalidRequest)
		}

		return nil
	}

	if strings.TrimSpace(r.ModelName) == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidRequest)
	}

	if r.Generations < 0 {
		return fmt.Errorf("%w: generations must not be negative", ErrInvalidRequest)
	}

	if r.Seed != "" {
		if _, err := strconv.Atoi(r.Seed); err != nil {
			return fmt.Errorf("%w: seed must be an integer", ErrInvalidRequest)
		}
	}

	return nil
}

// BuildArgs returns the scanner argv, starting with command. For REST
// scans generatorFile is the generator option file.
func BuildArgs(command []string, runID string, req *ScanRequest, generatorFile string) []string {
	args := append([]string{}, command...)

	if req.Provider == ProviderREST {
		args = append(args, "--model_type", ProviderREST, "-G", generatorFile)
	} else {
		args = append(args, "--model_type", req.Provider, "--model_name", req.ModelName)
	}

	if req.Probes != "" {
		args = append(args, "--probes", req.Probes)
	}

	if req.Detectors != "" {
		args = append(args, "--detectors", req.Detectors)
	}

	if req.Generations > 0 {
		args = append(args, "--generations", strconv.Itoa(req.Generations))
	}

	if req.Seed != "" {
		args = append(args, "--seed", req.Seed)
	}

	return append(args, "--report_prefix", ReportPrefix(runID))
}

// BuildEnv returns base extended with the scanner's variables.
func BuildEnv(base []string, req *ScanRequest) []string {
	env := append([]string{}, base...)
	env = append(env, "PYTHONUNBUFFERED=1")

	if req.APIKey != "" {
		if name, ok := apiKeyEnv[req.Provider]; ok {
			env = append(env, name+"="+req.APIKey)
		}
	}

	return env
}
