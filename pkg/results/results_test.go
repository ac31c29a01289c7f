package results_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntrex/vulntrex/pkg/api/storage"
	"github.com/vulntrex/vulntrex/pkg/config"
	"github.com/vulntrex/vulntrex/pkg/query"
	"github.com/vulntrex/vulntrex/pkg/results"
)

func lines(l ...string) []byte {
	return []byte(strings.Join(l, "\n") + "\n")
}

func reportFor(runID, start, model string) []byte {
	return lines(
		`{"entry_type":"start_run setup","plugins.model_type":"huggingface","plugins.probe_spec":"dan"}`,
		`{"entry_type":"init","run":"`+runID+`","garak_version":"0.10.0","start_time":"`+start+`"}`,
		`{"entry_type":"attempt","uuid":"u1","seq":0,"status":1,"probe_classname":"dan.Dan","outputs":[]}`,
		`{"entry_type":"attempt","uuid":"u1","seq":0,"status":2,"probe_classname":"dan.Dan","outputs":[{"text":"ok"}]}`,
		`{"entry_type":"digest","meta":{"model_type":"huggingface","model_name":"`+model+`","probespec":"dan"},`+
			`"eval":{"dan":{"dan.Dan":{"_summary":{"probe_score":0.5},"dan.DAN":{"absolute_score":0.5}}}}}`,
	)
}

func newTestRepository(t *testing.T) (*results.Repository, string) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()

	store, err := storage.NewLocalStore(log, &config.LocalStorageConfig{
		Enabled: true,
		DataDir: dir,
	})
	require.NoError(t, err)

	return results.NewRepository(log, store), dir
}

type recordingSink struct {
	summaries []*results.Summary
	err       error
}

func (s *recordingSink) UpsertSummary(_ context.Context, sum *results.Summary) error {
	s.summaries = append(s.summaries, sum)

	return s.err
}

func TestRepository_IngestAndLoad(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t)
	ctx := context.Background()

	hitlog := lines(`{"attempt_id":"u1","attempt_seq":0,"goal":"g","triggers":["t"],"score":1,"detector":"dan.DAN"}`)

	res, err := repo.Ingest(ctx, results.IngestRequest{
		Report: reportFor("run-1", "2025-01-01T00:00:00", "gpt2"),
		HitLog: hitlog,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	for _, f := range []string{storage.NormalizedFile, storage.ReportFile, storage.HitLogFile} {
		assert.FileExists(t, filepath.Join(dir, "runs", "run-1", f))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "runs", "run-1", storage.NormalizedFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"meta\"", "normalized file is indented")

	data, err := repo.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", data.Meta.RunID)
	assert.Equal(t, "gpt2", data.Meta.ModelName)
	assert.Len(t, data.Attempts, 2)
	require.Len(t, data.Probes, 1)

	hits, err := repo.HitLog(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u1", hits[0].AttemptID)

	report, err := repo.RawReport(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, reportFor("run-1", "2025-01-01T00:00:00", "gpt2"), report)
}

func TestRepository_ReingestWithoutHitLogDropsOldHits(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t)
	ctx := context.Background()
	report := reportFor("run-1", "2025-01-01T00:00:00", "gpt2")

	_, err := repo.Ingest(ctx, results.IngestRequest{
		Report: report,
		HitLog: lines(`{"attempt_id":"u1","attempt_seq":0,"goal":"g","score":1,"detector":"dan.DAN"}`),
	})
	require.NoError(t, err)

	res, err := repo.Ingest(ctx, results.IngestRequest{Report: report})
	require.NoError(t, err)
	assert.False(t, res.Summary.HasHits)
	assert.NoFileExists(t, filepath.Join(dir, "runs", "run-1", storage.HitLogFile))

	hits, err := repo.HitLog(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, hits)

	page, err := query.NewEngine(logrus.New(), repo).Attempts(ctx, "run-1", query.Params{})
	require.NoError(t, err)
	require.Len(t, page.Attempts, 1)
	assert.False(t, page.Attempts[0].HasHit)
}

func TestRepository_IngestRunID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	noRunReport := lines(`{"entry_type":"attempt","uuid":"u1","seq":0,"status":2,"probe_classname":"p"}`)

	tests := []struct {
		name     string
		req      results.IngestRequest
		want     string
		wantUUID bool
	}{
		{
			name: "forced id wins",
			req:  results.IngestRequest{RunID: "scan-42", NameHint: "x.report.jsonl", Report: reportFor("r1", "", "m")},
			want: "scan-42",
		},
		{
			name: "report run id",
			req:  results.IngestRequest{NameHint: "x.report.jsonl", Report: reportFor("r1", "", "m")},
			want: "r1",
		},
		{
			name: "file name without report suffix",
			req:  results.IngestRequest{NameHint: "garak.abc.report.jsonl", Report: noRunReport},
			want: "garak.abc",
		},
		{
			name:     "random id when nothing usable",
			req:      results.IngestRequest{NameHint: "", Report: noRunReport},
			wantUUID: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo, _ := newTestRepository(t)

			res, err := repo.Ingest(ctx, tt.req)
			require.NoError(t, err)

			if tt.wantUUID {
				_, err := uuid.Parse(res.RunID)
				assert.NoError(t, err)

				return
			}

			assert.Equal(t, tt.want, res.RunID)
		})
	}
}

func TestRepository_IngestErrors(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Ingest(ctx, results.IngestRequest{})
	require.Error(t, err)

	_, err = repo.Ingest(ctx, results.IngestRequest{RunID: "../escape", Report: []byte("{}")})
	require.ErrorIs(t, err, results.ErrInvalidRunID)
}

func TestRepository_IngestNotifiesSink(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	sink := &recordingSink{err: errors.New("index unavailable")}
	repo.SetSummarySink(sink)

	res, err := repo.Ingest(context.Background(), results.IngestRequest{
		Report: reportFor("run-1", "2025-01-01T00:00:00", "gpt2"),
	})
	require.NoError(t, err, "sink failures do not fail the ingest")

	require.Len(t, sink.summaries, 1)
	assert.Equal(t, "run-1", sink.summaries[0].ID)
	assert.Equal(t, res.Summary, sink.summaries[0])
}

func TestRepository_LoadErrors(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, "missing")
	require.ErrorIs(t, err, results.ErrRunNotFound)

	_, err = repo.Load(ctx, "..")
	require.ErrorIs(t, err, results.ErrInvalidRunID)

	runDir := filepath.Join(dir, "runs", "broken")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, storage.NormalizedFile), []byte("{"), 0o644))

	_, err = repo.Load(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, results.ErrRunNotFound)
}

func TestRepository_HitLogMissing(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Ingest(ctx, results.IngestRequest{Report: reportFor("run-1", "", "m")})
	require.NoError(t, err)

	hits, err := repo.HitLog(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRepository_SummariesAndStats(t *testing.T) {
	t.Parallel()

	repo, dir := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Ingest(ctx, results.IngestRequest{
		Report: reportFor("old", "2025-01-01T00:00:00", "gpt2"),
	})
	require.NoError(t, err)

	_, err = repo.Ingest(ctx, results.IngestRequest{
		Report: reportFor("new", "2025-03-01T00:00:00", "llama"),
		HitLog: lines("", `{"attempt_id":"u1"}`),
	})
	require.NoError(t, err)

	_, err = repo.Ingest(ctx, results.IngestRequest{
		Report: reportFor("mid", "2025-02-01T00:00:00", "gpt2"),
		HitLog: []byte("\n  \n"),
	})
	require.NoError(t, err)

	// A directory without a normalized file is not listed.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "runs", "pending"), 0o755))

	summaries, err := repo.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, "new", summaries[0].ID)
	assert.Equal(t, "mid", summaries[1].ID)
	assert.Equal(t, "old", summaries[2].ID)

	assert.True(t, summaries[0].HasHits)
	assert.False(t, summaries[1].HasHits, "blank hit log has no hits")
	assert.False(t, summaries[2].HasHits)

	assert.Equal(t, "huggingface / llama", summaries[0].Model)
	assert.Equal(t, "dan", summaries[0].ProbeSpec)
	assert.Equal(t, "0.10.0", summaries[0].GarakVersion)
	assert.Equal(t, 1, summaries[0].AttemptCount)
	assert.Equal(t, 1, summaries[0].ProbeCount)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, []string{"gpt2", "llama"}, stats.Models)
	assert.Equal(t, []string{"dan"}, stats.ProbeSpecs)
}

func TestRepository_FeedsQueryEngine(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Ingest(ctx, results.IngestRequest{
		Report: reportFor("run-1", "", "m"),
		HitLog: lines(`{"attempt_id":"u1","goal":"g","triggers":["t"],"score":0.75,"detector":"dan.DAN","attempt_idx":0}`),
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	res, err := query.NewEngine(log, repo).Attempts(ctx, "run-1", query.Params{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	row := res.Attempts[0]
	assert.Equal(t, 2, row.Status)
	assert.True(t, row.HasHit)
	require.NotNil(t, row.HitlogData)
	assert.InDelta(t, 0.75, row.HitlogData.Score, 1e-9)
	assert.Equal(t, []string{"ok"}, row.Outputs)
}

func TestSummarize_ModelParts(t *testing.T) {
	tests := []struct {
		name      string
		modelType string
		modelName string
		want      string
	}{
		{name: "both", modelType: "openai", modelName: "gpt-4o", want: "openai / gpt-4o"},
		{name: "type only", modelType: "openai", want: "openai"},
		{name: "name only", modelName: "gpt-4o", want: "gpt-4o"},
		{name: "neither", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := reportData(tt.modelType, tt.modelName)
			assert.Equal(t, tt.want, results.Summarize("r", data, nil).Model)
		})
	}
}

func TestSortSummaries(t *testing.T) {
	s := []results.Summary{
		{ID: "b", StartTime: "2025-01-01"},
		{ID: "c", StartTime: ""},
		{ID: "a", StartTime: "2025-01-01"},
		{ID: "d", StartTime: "2025-06-01"},
	}

	results.SortSummaries(s)

	ids := make([]string, 0, len(s))
	for _, x := range s {
		ids = append(ids, x.ID)
	}

	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}
