package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulntrex/vulntrex/pkg/garak"
)

var errMissing = errors.New("run not found")

type fakeSource struct {
	data        map[string]*garak.RunData
	hits        map[string][]garak.HitLogEntry
	reports     map[string]string
	reportReads int
	reportErr   error
}

func (f *fakeSource) Load(_ context.Context, runID string) (*garak.RunData, error) {
	d, ok := f.data[runID]
	if !ok {
		return nil, errMissing
	}

	return d, nil
}

func (f *fakeSource) HitLog(_ context.Context, runID string) ([]garak.HitLogEntry, error) {
	return f.hits[runID], nil
}

func (f *fakeSource) RawReport(_ context.Context, runID string) ([]byte, error) {
	f.reportReads++

	if f.reportErr != nil {
		return nil, f.reportErr
	}

	r, ok := f.reports[runID]
	if !ok {
		return nil, nil
	}

	return []byte(r), nil
}

func newTestEngine(src Source) *Engine {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewEngine(log, src)
}

func scenarioSource() *fakeSource {
	data := garak.NewRunData()
	data.Meta.RunID = "r1"
	data.Attempts = []garak.Attempt{
		attempt("u1", 1, "p1"),
		attempt("u1", 2, "p1", "hi"),
		attempt("u2", 2, "p2", "a", "b"),
		attempt("u3", 2, "p2"),
	}

	return &fakeSource{
		data: map[string]*garak.RunData{"r1": data},
		hits: map[string][]garak.HitLogEntry{"r1": {
			hit("u1", "d1", 0.9),
			hit("u2", "d1", 0.1),
			hit("u2", "d2", 0.2),
		}},
		reports: map[string]string{"r1": strings.Join([]string{
			`{"entry_type":"attempt","uuid":"u3","status":1,"outputs":[]}`,
			`{"entry_type":"attempt","uuid":"u3","status":2,"outputs":[{"text":"recovered"}]}`,
		}, "\n")},
	}
}

func TestEngine_Attempts(t *testing.T) {
	src := scenarioSource()
	engine := newTestEngine(src)

	res, err := engine.Attempts(context.Background(), "r1", Params{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 50, res.Limit)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, []string{"u1/d1", "u2/d1", "u2/d2", "u3/"}, uuids(res.Attempts))
	assert.Equal(t, []string{"hi"}, res.Attempts[0].Outputs)
	assert.Equal(t, []string{"recovered"}, res.Attempts[3].Outputs)
}

func TestEngine_AttemptsFilteredPage(t *testing.T) {
	src := scenarioSource()
	engine := newTestEngine(src)

	res, err := engine.Attempts(context.Background(), "r1", Params{Page: 2, Limit: 1, Detector: "d1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total, "total counts filtered rows before paging")
	assert.Equal(t, []string{"u2/d1"}, uuids(res.Attempts))
	assert.Zero(t, src.reportReads, "raw report is not read when no row needs it")
}

func TestEngine_NotFound(t *testing.T) {
	engine := newTestEngine(scenarioSource())

	_, err := engine.Attempts(context.Background(), "missing", Params{})
	require.ErrorIs(t, err, errMissing)

	_, err = engine.Enriched(context.Background(), "missing")
	require.ErrorIs(t, err, errMissing)
}

func TestEngine_Enriched(t *testing.T) {
	src := scenarioSource()
	engine := newTestEngine(src)

	rows, err := engine.Enriched(context.Background(), "r1")
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, 2, rows[0].Status, "deduplicated to the completed record")
	assert.Equal(t, []string{"recovered"}, rows[3].Outputs)
	assert.Equal(t, 1, src.reportReads)
}

func TestEngine_ReportFailureKeepsOutputs(t *testing.T) {
	src := scenarioSource()
	src.reportErr = errors.New("disk on fire")

	rows, err := newTestEngine(src).Enriched(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, rows[3].Outputs)
}

func TestOutputResolver(t *testing.T) {
	report := strings.Join([]string{
		`{"entry_type":"attempt","uuid":"gen","generations":["g1",null]}`,
		`{"entry_type":"attempt","uuid":"both","outputs":[{"text":"out"}],"generations":["gen"]}`,
		`{"entry_type":"eval","uuid":"gen","outputs":["not an attempt"]}`,
		`{"entry_type":"attempt","uuid":"blank","outputs":[{"text":""}]}`,
		`not json`,
	}, "\n")

	reads := 0
	resolver := NewOutputResolver(func() ([]byte, error) {
		reads++

		return []byte(report), nil
	})

	tests := []struct {
		name    string
		attempt garak.Attempt
		want    []string
	}{
		{name: "normalized text wins", attempt: attempt("gen", 2, "p", "", "kept"), want: []string{"", "kept"}},
		{name: "generations fallback", attempt: attempt("gen", 2, "p", "", ""), want: []string{"g1", ""}},
		{name: "outputs preferred", attempt: attempt("both", 2, "p"), want: []string{"out"}},
		{name: "blank raw keeps normalized", attempt: attempt("blank", 2, "p", ""), want: []string{""}},
		{name: "unknown uuid", attempt: attempt("nope", 2, "p"), want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.Resolve(&tt.attempt))
		})
	}

	assert.Equal(t, 1, reads, "report is scanned once per resolver")
	require.NoError(t, resolver.Err())
}
