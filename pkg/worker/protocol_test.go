package worker

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/task"
)

func TestChildSpecRoundTripsToTaskSpec(t *testing.T) {
	spec := task.Spec{
		Name:                    "transform chair",
		Requires:                []string{"explode_glob items"},
		ScratchpadIgnoreMissing: true,
		Fields:                  map[string]any{"source": "items/chair.json"},
	}

	wire := toChildSpec(spec)
	back := wire.ToSpec()

	assert.Equal(t, spec, back)
}

func TestRequestRoundTripsOverGob(t *testing.T) {
	req := Request{
		RequestID: "r1",
		SpecName:  "copy ingest data",
		TaskType:  "copy",
		State:     task.StateRunning,
		Fields: map[string]any{
			"source":      "raw/data.csv",
			"destination": "staging/data.csv",
			"retries":     3,
			"nested":      map[string]any{"flag": true},
			"list":        []any{"a", "b"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(req))

	var decoded Request
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	assert.Equal(t, req.SpecName, decoded.SpecName)
	assert.Equal(t, req.Fields["source"], decoded.Fields["source"])
	assert.Equal(t, req.Fields["retries"], decoded.Fields["retries"])
	assert.Equal(t, true, decoded.Fields["nested"].(map[string]any)["flag"])
	assert.Equal(t, []any{"a", "b"}, decoded.Fields["list"])
}

func TestResultRoundTripsOverGob(t *testing.T) {
	res := Result{
		RequestID: "r1",
		SpecName:  "copy ingest data",
		NextState: task.StatePendingValidation,
		NewSpecs: []ChildSpec{
			{Name: "transform chair", Fields: map[string]any{"source": "items/chair.json"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(res))

	var decoded Result
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	assert.Equal(t, res.NextState, decoded.NextState)
	require.Len(t, decoded.NewSpecs, 1)
	assert.Equal(t, "transform chair", decoded.NewSpecs[0].Name)
}
