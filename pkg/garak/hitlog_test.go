package garak

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggers_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Triggers
	}{
		{name: "list", raw: `["a","b"]`, want: Triggers{"a", "b"}},
		{name: "single string", raw: `"only"`, want: Triggers{"only"}},
		{name: "null", raw: `null`, want: nil},
		{name: "empty list", raw: `[]`, want: Triggers{}},
		{name: "mixed list", raw: `["a",1,null]`, want: Triggers{"a", "1", "null"}},
		{name: "number", raw: `3`, want: Triggers{"3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Triggers
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHitLogEntry_OutputIndex(t *testing.T) {
	idx := func(i int) *int { return &i }

	assert.Equal(t, 0, (&HitLogEntry{}).OutputIndex())
	assert.Equal(t, 3, (&HitLogEntry{AttemptIdx: idx(3)}).OutputIndex())
	assert.Equal(t, 0, (&HitLogEntry{AttemptIdx: idx(-1)}).OutputIndex())
}

func TestReadHitLog(t *testing.T) {
	input := strings.Join([]string{
		`{"goal":"make it swear","prompt":{"turns":[]},"output":{"text":"bad"},"triggers":["bad"],"score":1.0,"run_id":"r","attempt_id":"u1","attempt_seq":0,"attempt_idx":1,"generator":"huggingface gpt2","probe":"p","detector":"d","generations_per_prompt":3}`,
		`garbage`,
		``,
		`{"attempt_id":"u2","score":"high"}`,
		`{"attempt_id":"u3","triggers":"solo"}`,
	}, "\n")

	hits := ReadHitLog(strings.NewReader(input))
	require.Len(t, hits, 2, "malformed and mistyped lines are dropped")

	h := hits[0]
	assert.Equal(t, "u1", h.AttemptID)
	assert.Equal(t, "make it swear", h.Goal)
	assert.Equal(t, Triggers{"bad"}, h.Triggers)
	assert.InDelta(t, 1.0, h.Score, 1e-9)
	assert.Equal(t, 1, h.OutputIndex())
	assert.Equal(t, "d", h.Detector)
	assert.Equal(t, 3, h.GenerationsPerPrompt)

	assert.Equal(t, "u3", hits[1].AttemptID)
	assert.Equal(t, Triggers{"solo"}, hits[1].Triggers)
	assert.Equal(t, 0, hits[1].OutputIndex())
}
