// Package scanner launches the external LLM vulnerability scanner, tracks
// its runs in a registry file, and ingests their reports once they exit.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/fsutil"
	"github.com/vulntrex/vulntrex/pkg/results"
)

// Ingester stores a finished scan's report.
type Ingester interface {
	Ingest(ctx context.Context, req results.IngestRequest) (*results.IngestResult, error)
}

// Manager runs and tracks scans.
type Manager interface {
	// Start launches a scan and returns its registry record.
	Start(ctx context.Context, req ScanRequest) (*RunInfo, error)
	// Status returns a scan's state, finalizing it when its process
	// has exited.
	Status(ctx context.Context, runID string) (*RunStatus, error)
	// Cancel kills a running scan.
	Cancel(ctx context.Context, runID string) error
	// List returns every known scan, newest first.
	List(ctx context.Context) ([]RunInfo, error)
	// ListPlugins returns the scanner's probe or detector names.
	ListPlugins(ctx context.Context, kind PluginKind) ([]string, error)
	// Stop kills scans started by this manager.
	Stop() error
}

// Compile-time interface check.
var _ Manager = (*manager)(nil)

// trackedProcess is a scan started by this manager instance.
type trackedProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

type manager struct {
	log      logrus.FieldLogger
	cfg      *config.ScannerConfig
	ingester Ingester
	registry *registry

	mu        sync.Mutex
	procs     map[string]*trackedProcess
	finalizer sync.Mutex

	now func() time.Time
}

// NewManager creates a scan manager.
func NewManager(
	log logrus.FieldLogger,
	cfg *config.ScannerConfig,
	ingester Ingester,
) Manager {
	return &manager{
		log:      log.WithField("component", "scanner"),
		cfg:      cfg,
		ingester: ingester,
		registry: newRegistry(cfg.RegistryFile, nil),
		procs:    make(map[string]*trackedProcess, 4),
		now:      time.Now,
	}
}

// Start implements Manager.
func (m *manager) Start(ctx context.Context, req ScanRequest) (*RunInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	for _, dir := range []string{m.cfg.LogsDir, m.cfg.ConfigsDir} {
		if err := fsutil.MkdirAll(dir, 0o755, nil); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	runID := uuid.NewString()

	var generatorFile string

	if req.Provider == ProviderREST {
		path, err := m.writeGeneratorFile(runID, req.RestConfig)
		if err != nil {
			return nil, err
		}

		generatorFile = path
	}

	logFile := filepath.Join(m.cfg.LogsDir, runID+".log")

	logOut, err := fsutil.Create(logFile, nil)
	if err != nil {
		return nil, fmt.Errorf("creating scan log: %w", err)
	}

	args := BuildArgs(m.cfg.Command, runID, &req, generatorFile)

	// The scan outlives the request, so it is not bound to ctx.
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // argv prefix comes from config
	cmd.Dir = m.cfg.WorkDir
	cmd.Env = BuildEnv(os.Environ(), &req)
	cmd.Stdout = logOut
	cmd.Stderr = logOut

	if err := cmd.Start(); err != nil {
		_ = logOut.Close()

		return nil, fmt.Errorf("starting scanner: %w", err)
	}

	proc := &trackedProcess{cmd: cmd, done: make(chan struct{})}

	m.mu.Lock()
	m.procs[runID] = proc
	m.mu.Unlock()

	go func() {
		defer close(proc.done)
		defer func() { _ = logOut.Close() }()

		if err := cmd.Wait(); err != nil {
			m.log.WithError(err).WithField("run_id", runID).Debug("Scanner exited with error")
		}
	}()

	model := req.ModelName
	if model == "" && req.Provider == ProviderREST {
		if uri, ok := req.RestConfig["uri"].(string); ok {
			model = uri
		}
	}

	info := &RunInfo{
		RunID:        runID,
		PID:          cmd.Process.Pid,
		Status:       StatusRunning,
		StartTime:    m.now().UnixMilli(),
		Model:        model,
		Probes:       req.Probes,
		Detectors:    req.Detectors,
		ReportPrefix: ReportPrefix(runID),
		LogFile:      logFile,
	}

	if err := m.registry.put(info); err != nil {
		_ = cmd.Process.Kill()

		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"pid":      info.PID,
		"provider": req.Provider,
		"model":    model,
		"args":     strings.Join(args, " "),
	}).Info("Scan started")

	return info, nil
}

func (m *manager) writeGeneratorFile(runID string, raw map[string]any) (string, error) {
	opts, err := DecodeRestOptions(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if opts.URI == "" {
		return "", fmt.Errorf("%w: REST uri is required", ErrInvalidRequest)
	}

	data, err := json.MarshalIndent(GeneratorOptions(opts.Generator(m.log)), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding generator options: %w", err)
	}

	path := filepath.Join(m.cfg.ConfigsDir, runID+".json")

	// Headers may carry credentials.
	if err := fsutil.WriteFileAtomic(path, data, 0o600, nil); err != nil {
		return "", fmt.Errorf("writing generator options: %w", err)
	}

	return path, nil
}

// Status implements Manager.
func (m *manager) Status(ctx context.Context, runID string) (*RunStatus, error) {
	info, err := m.registry.get(runID)
	if err != nil {
		return nil, err
	}

	if info.Status == StatusRunning && !m.alive(ctx, runID, info.PID) {
		info, err = m.finalize(ctx, runID)
		if err != nil {
			return nil, err
		}
	}

	return &RunStatus{
		RunID:      info.RunID,
		Status:     info.Status,
		Logs:       readLogs(info.LogFile),
		StartTime:  info.StartTime,
		EndTime:    info.EndTime,
		Error:      info.Error,
		ResultPath: info.ResultPath,
	}, nil
}

func readLogs(path string) string {
	if path == "" {
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return string(data)
}

// alive reports whether a scan's process is still running. Scans
// started before a restart are checked by PID.
func (m *manager) alive(ctx context.Context, runID string, pid int) bool {
	m.mu.Lock()
	proc, ok := m.procs[runID]
	m.mu.Unlock()

	if ok {
		select {
		case <-proc.done:
			return false
		default:
			return true
		}
	}

	if pid <= 0 {
		return false
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid)) //nolint:gosec // pid from registry
	if err != nil {
		m.log.WithError(err).WithField("pid", pid).Debug("Checking scanner process")

		return false
	}

	return exists
}

// finalize ingests the outputs of an exited scan and records the result.
func (m *manager) finalize(ctx context.Context, runID string) (*RunInfo, error) {
	m.finalizer.Lock()
	defer m.finalizer.Unlock()

	// Another caller may have finalized it meanwhile.
	info, err := m.registry.get(runID)
	if err != nil {
		return nil, err
	}

	if info.Status != StatusRunning {
		return info, nil
	}

	dirs := append([]string{m.cfg.WorkDir}, m.cfg.OutputDirs...)
	found := locateOutputs(dirs, info.ReportPrefix)

	status, resultPath, errMsg := m.ingestOutputs(ctx, runID, found)
	endTime := m.now().UnixMilli()

	m.mu.Lock()
	delete(m.procs, runID)
	m.mu.Unlock()

	log := m.log.WithFields(logrus.Fields{"run_id": runID, "status": status})
	if errMsg != "" {
		log = log.WithField("error", errMsg)
	}

	log.Info("Scan finished")

	return m.registry.update(runID, func(info *RunInfo) bool {
		if info.Status != StatusRunning {
			return false
		}

		info.Status = status
		info.EndTime = endTime
		info.ResultPath = resultPath
		info.Error = errMsg

		return true
	})
}

func (m *manager) ingestOutputs(
	ctx context.Context,
	runID string,
	found outputFiles,
) (Status, string, string) {
	if found.Report == "" {
		return StatusFailed, "", ErrMsgNoReport
	}

	report, err := os.ReadFile(found.Report)
	if err != nil {
		m.log.WithError(err).WithField("run_id", runID).Error("Reading scan report")

		return StatusFailed, "", ErrMsgParseReport
	}

	var hitlog []byte

	if found.HitLog != "" {
		if hitlog, err = os.ReadFile(found.HitLog); err != nil {
			m.log.WithError(err).WithField("run_id", runID).Warn("Reading scan hit log")
		}
	}

	if _, err := m.ingester.Ingest(ctx, results.IngestRequest{
		RunID:    runID,
		NameHint: filepath.Base(found.Report),
		Report:   report,
		HitLog:   hitlog,
	}); err != nil {
		m.log.WithError(err).WithField("run_id", runID).Error("Ingesting scan report")

		return StatusFailed, "", ErrMsgParseReport
	}

	for _, path := range []string{found.Report, found.HitLog} {
		if path == "" {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.WithError(err).WithField("path", path).Warn("Removing ingested scan output")
		}
	}

	return StatusCompleted, "/runs/" + runID, ""
}

// Cancel implements Manager.
func (m *manager) Cancel(ctx context.Context, runID string) error {
	// Held until the cancelled status is recorded so that a concurrent
	// Status cannot finalize the killed process first.
	m.finalizer.Lock()
	defer m.finalizer.Unlock()

	info, err := m.registry.get(runID)
	if err != nil {
		return err
	}

	if info.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, runID)
	}

	if err := m.kill(ctx, runID, info.PID); err != nil {
		return fmt.Errorf("killing scanner process: %w", err)
	}

	endTime := m.now().UnixMilli()

	updated, err := m.registry.update(runID, func(info *RunInfo) bool {
		if info.Status != StatusRunning {
			return false
		}

		info.Status = StatusCancelled
		info.EndTime = endTime
		info.Error = ErrMsgCancelled

		return true
	})
	if err != nil {
		return err
	}

	if updated.Status != StatusCancelled {
		return fmt.Errorf("%w: %s", ErrNotRunning, runID)
	}

	m.log.WithField("run_id", runID).Info("Scan cancelled")

	return nil
}

func (m *manager) kill(ctx context.Context, runID string, pid int) error {
	m.mu.Lock()
	proc, ok := m.procs[runID]
	m.mu.Unlock()

	if ok {
		if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}

		<-proc.done

		m.mu.Lock()
		delete(m.procs, runID)
		m.mu.Unlock()

		return nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // pid from registry
	if err != nil {
		return err
	}

	return p.KillWithContext(ctx)
}

// List implements Manager.
func (m *manager) List(_ context.Context) ([]RunInfo, error) {
	return m.registry.list()
}

// ListPlugins implements Manager.
func (m *manager) ListPlugins(ctx context.Context, kind PluginKind) ([]string, error) {
	flag, ok := kind.flag()
	if !ok {
		return nil, fmt.Errorf("%w: unknown plugin kind %q", ErrInvalidRequest, kind)
	}

	timeout, err := m.cfg.PluginListTimeoutDuration()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, m.cfg.Command...), flag)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // argv prefix comes from config
	cmd.Dir = m.cfg.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}

		return nil, fmt.Errorf("listing %s: %s", kind, msg)
	}

	return ParsePluginList(stdout.String(), kind), nil
}

// Stop implements Manager.
func (m *manager) Stop() error {
	m.mu.Lock()
	procs := make(map[string]*trackedProcess, len(m.procs))
	for id, p := range m.procs {
		procs[id] = p
	}
	m.mu.Unlock()

	for id, p := range procs {
		select {
		case <-p.done:
			continue
		default:
		}

		m.log.WithField("run_id", id).Warn("Stopping running scan")

		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.log.WithError(err).WithField("run_id", id).Warn("Failed to stop scan")
		}
	}

	return nil
}
