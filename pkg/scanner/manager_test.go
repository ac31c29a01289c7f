package scanner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/results"
)

// fakeScanner writes a report and hit log under the --report_prefix
// argument, the way the real scanner does.
const fakeScanner = `for a in "$@"; do
  if [ "$prev" = "--report_prefix" ]; then p="$a"; fi
  prev="$a"
done
printf '%s\n' '{"entry_type":"init","run":"inner","start_time":"2025-01-01T00:00:00"}' \
  '{"entry_type":"attempt","uuid":"u1","seq":0,"status":2,"probe_classname":"dan.Dan","outputs":[{"text":"ok"}]}' > "$p.report.jsonl"
printf '%s\n' '{"attempt_id":"u1","detector":"dan.DAN","score":1}' > "$p.hitlog.jsonl"
echo "scan done"
`

type testEnv struct {
	mgr     Manager
	repo    *results.Repository
	workDir string
	cfg     *config.ScannerConfig
}

func newTestEnv(t *testing.T, script string) *testEnv {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(workDir, 0o755))

	store, err := storage.NewLocalStore(log, &config.LocalStorageConfig{
		Enabled: true,
		DataDir: dir,
	})
	require.NoError(t, err)

	repo := results.NewRepository(log, store)

	cfg := &config.ScannerConfig{
		Enabled:           true,
		Command:           []string{"sh", "-c", script, "garak"},
		WorkDir:           workDir,
		LogsDir:           filepath.Join(dir, "logs"),
		ConfigsDir:        filepath.Join(dir, "configs"),
		RegistryFile:      filepath.Join(dir, "active_runs.json"),
		PluginListTimeout: "10s",
	}

	return &testEnv{
		mgr:     NewManager(log, cfg, repo),
		repo:    repo,
		workDir: workDir,
		cfg:     cfg,
	}
}

func waitFinished(t *testing.T, mgr Manager, runID string) *RunStatus {
	t.Helper()

	var st *RunStatus

	require.Eventually(t, func() bool {
		var err error

		st, err = mgr.Status(context.Background(), runID)

		return err == nil && st.Status != StatusRunning
	}, 10*time.Second, 20*time.Millisecond)

	return st
}

func TestManager_StartAndFinalize(t *testing.T) {
	env := newTestEnv(t, fakeScanner)
	ctx := context.Background()

	info, err := env.mgr.Start(ctx, ScanRequest{ModelName: "gpt2", Probes: "dan"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, "garak_"+info.RunID, info.ReportPrefix)
	assert.Positive(t, info.PID)

	st := waitFinished(t, env.mgr, info.RunID)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "/runs/"+info.RunID, st.ResultPath)
	assert.Empty(t, st.Error)
	assert.Contains(t, st.Logs, "scan done")
	assert.GreaterOrEqual(t, st.EndTime, st.StartTime)

	// Outputs were moved into storage under the scan id.
	assert.NoFileExists(t, filepath.Join(env.workDir, info.ReportPrefix+".report.jsonl"))
	assert.NoFileExists(t, filepath.Join(env.workDir, info.ReportPrefix+".hitlog.jsonl"))

	data, err := env.repo.Load(ctx, info.RunID)
	require.NoError(t, err)
	assert.Len(t, data.Attempts, 1)

	hits, err := env.repo.HitLog(ctx, info.RunID)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Status is stable once finalized.
	again, err := env.mgr.Status(ctx, info.RunID)
	require.NoError(t, err)
	assert.Equal(t, st.EndTime, again.EndTime)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestManager_NoReport(t *testing.T) {
	env := newTestEnv(t, `echo "model not found" >&2; exit 1`)

	info, err := env.mgr.Start(context.Background(), ScanRequest{ModelName: "missing"})
	require.NoError(t, err)

	st := waitFinished(t, env.mgr, info.RunID)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, ErrMsgNoReport, st.Error)
	assert.Contains(t, st.Logs, "model not found")
}

func TestManager_ReportFromOutputDir(t *testing.T) {
	outDir := t.TempDir()
	env := newTestEnv(t, `for a in "$@"; do
  if [ "$prev" = "--report_prefix" ]; then p="$a"; fi
  prev="$a"
done
echo '{"entry_type":"attempt","uuid":"u1","seq":0,"status":2,"probe_classname":"p"}' > "$OUT_DIR/$p.report.jsonl"
`)
	env.cfg.OutputDirs = []string{outDir}
	t.Setenv("OUT_DIR", outDir)

	info, err := env.mgr.Start(context.Background(), ScanRequest{ModelName: "gpt2"})
	require.NoError(t, err)

	st := waitFinished(t, env.mgr, info.RunID)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.NoFileExists(t, filepath.Join(outDir, info.ReportPrefix+".report.jsonl"))
}

func TestManager_Cancel(t *testing.T) {
	env := newTestEnv(t, `exec sleep 30`)
	ctx := context.Background()

	info, err := env.mgr.Start(ctx, ScanRequest{ModelName: "gpt2"})
	require.NoError(t, err)

	require.NoError(t, env.mgr.Cancel(ctx, info.RunID))

	st, err := env.mgr.Status(ctx, info.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.Equal(t, ErrMsgCancelled, st.Error)
	assert.NotZero(t, st.EndTime)

	err = env.mgr.Cancel(ctx, info.RunID)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestManager_CancelWhileStatusPolled(t *testing.T) {
	env := newTestEnv(t, `exec sleep 30`)
	ctx := context.Background()

	info, err := env.mgr.Start(ctx, ScanRequest{ModelName: "gpt2"})
	require.NoError(t, err)

	stop := make(chan struct{})
	polled := make(chan struct{})

	go func() {
		defer close(polled)

		for {
			select {
			case <-stop:
				return
			default:
				_, _ = env.mgr.Status(ctx, info.RunID)
			}
		}
	}()

	err = env.mgr.Cancel(ctx, info.RunID)
	close(stop)
	<-polled

	require.NoError(t, err)

	st, err := env.mgr.Status(ctx, info.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.Equal(t, ErrMsgCancelled, st.Error)
	assert.Empty(t, st.ResultPath)
}

func TestManager_UnknownRun(t *testing.T) {
	env := newTestEnv(t, fakeScanner)
	ctx := context.Background()

	_, err := env.mgr.Status(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)

	err = env.mgr.Cancel(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_RecoversUntrackedRun(t *testing.T) {
	env := newTestEnv(t, fakeScanner)

	// A scan left running by a previous process whose PID is gone.
	runs := map[string]*RunInfo{
		"old": {RunID: "old", PID: 0, Status: StatusRunning, StartTime: 1, ReportPrefix: "garak_old"},
	}
	data, err := json.Marshal(runs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.cfg.RegistryFile, data, 0o644))

	st, err := env.mgr.Status(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, ErrMsgNoReport, st.Error)
	assert.Empty(t, st.Logs)
}

func TestManager_List(t *testing.T) {
	env := newTestEnv(t, fakeScanner)
	ctx := context.Background()

	first, err := env.mgr.Start(ctx, ScanRequest{ModelName: "a"})
	require.NoError(t, err)
	waitFinished(t, env.mgr, first.RunID)

	time.Sleep(5 * time.Millisecond)

	second, err := env.mgr.Start(ctx, ScanRequest{ModelName: "b"})
	require.NoError(t, err)
	waitFinished(t, env.mgr, second.RunID)

	runs, err := env.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, "b", runs[0].Model)
}

func TestManager_StartInvalid(t *testing.T) {
	env := newTestEnv(t, fakeScanner)

	_, err := env.mgr.Start(context.Background(), ScanRequest{Provider: "openai"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.mgr.Start(context.Background(), ScanRequest{
		Provider:   ProviderREST,
		RestConfig: map[string]any{"method": "post"},
	})
	require.ErrorIs(t, err, ErrInvalidRequest, "uri is required")
}

func TestManager_StartREST(t *testing.T) {
	env := newTestEnv(t, fakeScanner)

	info, err := env.mgr.Start(context.Background(), ScanRequest{
		Provider: ProviderREST,
		RestConfig: map[string]any{
			"uri":     "https://llm.internal/v1/chat",
			"headers": `{"Authorization":"Bearer $KEY"}`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://llm.internal/v1/chat", info.Model)

	path := filepath.Join(env.cfg.ConfigsDir, info.RunID+".json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var opts struct {
		Rest struct {
			RestGenerator RestGenerator `json:"RestGenerator"`
		} `json:"rest"`
	}
	require.NoError(t, json.Unmarshal(raw, &opts))
	assert.Equal(t, "https://llm.internal/v1/chat", opts.Rest.RestGenerator.URI)
	assert.Equal(t, map[string]string{"Authorization": "Bearer $KEY"}, opts.Rest.RestGenerator.Headers)
	assert.Equal(t, []int{429}, opts.Rest.RestGenerator.RatelimitCodes)

	waitFinished(t, env.mgr, info.RunID)
}

func TestManager_ListPlugins(t *testing.T) {
	env := newTestEnv(t, `if [ "$1" = "--list_probes" ]; then
  echo "garak LLM vulnerability scanner"
  echo "probes: dan 🌟"
  echo "probes: dan.Dan_11_0"
  echo "probes: encoding.InjectBase64 💤"
else
  echo "detectors: always.Pass"
fi
`)
	ctx := context.Background()

	probes, err := env.mgr.ListPlugins(ctx, PluginProbes)
	require.NoError(t, err)
	assert.Equal(t, []string{"dan.Dan_11_0", "encoding.InjectBase64"}, probes)

	detectors, err := env.mgr.ListPlugins(ctx, PluginDetectors)
	require.NoError(t, err)
	assert.Equal(t, []string{"always.Pass"}, detectors)

	_, err = env.mgr.ListPlugins(ctx, PluginKind("generators"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestManager_ListPluginsFailure(t *testing.T) {
	env := newTestEnv(t, `echo "No module named garak" >&2; exit 1`)

	_, err := env.mgr.ListPlugins(context.Background(), PluginProbes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No module named garak")
}
