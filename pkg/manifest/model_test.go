package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepManifestRecalculateFailureDominates(t *testing.T) {
	s := NewStepManifest("ingest")
	s.UpsertTask(&TaskManifest{Name: "a", Result: ResultSuccess})
	s.UpsertTask(&TaskManifest{Name: "b", Result: ResultFailure})
	s.Recalculate()
	assert.Equal(t, ResultFailure, s.Result)
}

func TestStepManifestRecalculateAllSuccess(t *testing.T) {
	s := NewStepManifest("ingest")
	s.UpsertTask(&TaskManifest{Name: "a", Result: ResultSuccess})
	s.UpsertTask(&TaskManifest{Name: "b", Result: ResultSuccess})
	s.Recalculate()
	assert.Equal(t, ResultSuccess, s.Result)
}

func TestStepManifestRecalculatePendingWhenMixed(t *testing.T) {
	s := NewStepManifest("ingest")
	s.UpsertTask(&TaskManifest{Name: "a", Result: ResultSuccess})
	s.UpsertTask(&TaskManifest{Name: "b", Result: ResultPending})
	s.Recalculate()
	assert.Equal(t, ResultPending, s.Result)
}

func TestStepManifestEmptyIsPending(t *testing.T) {
	s := NewStepManifest("ingest")
	s.Recalculate()
	assert.Equal(t, ResultPending, s.Result)
}

func TestStepManifestUpsertReplacesByName(t *testing.T) {
	s := NewStepManifest("ingest")
	s.UpsertTask(&TaskManifest{Name: "a", Result: ResultPending})
	s.UpsertTask(&TaskManifest{Name: "a", Result: ResultSuccess})
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, ResultSuccess, s.Tasks[0].Result)
}

func TestRootManifestRecalculateRollsUpSteps(t *testing.T) {
	r := &RootManifest{Steps: map[string]*StepManifest{
		"otter_ingest":  {Result: ResultSuccess},
		"otter_publish": {Result: ResultAborted},
	}}
	r.Recalculate()
	assert.Equal(t, ResultFailure, r.Result)
}

func TestArtifactValueRoundTripsSingleAndList(t *testing.T) {
	single := SingleArtifact("gs://bucket/file.txt")
	data, err := single.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"gs://bucket/file.txt"`, string(data))

	var roundTripped ArtifactValue
	require.NoError(t, roundTripped.UnmarshalJSON(data))
	assert.Equal(t, single, roundTripped)

	list := ListArtifact([]string{"a.txt", "b.txt"})
	data, err = list.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["a.txt","b.txt"]`, string(data))
}

func TestTaskManifestExtraFieldsRoundTrip(t *testing.T) {
	input := []byte(`{"name":"copy x","result":"success","log":[],"artifacts":[],"custom_field":"kept"}`)
	var tm TaskManifest
	require.NoError(t, json.Unmarshal(input, &tm))
	assert.Equal(t, json.RawMessage(`"kept"`), tm.Extra["custom_field"])

	out, err := tm.MarshalJSON()
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "kept", roundTripped["custom_field"])
}

func TestTaskManifestElapsedRequiresBothTimestamps(t *testing.T) {
	tm := NewTaskManifest("copy x")
	assert.Nil(t, tm.RunElapsed())
	assert.Nil(t, tm.Elapsed())
}
