package worker

import (
	"context"
	"encoding/gob"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/task"
)

func stubFactory() map[string]registry.Constructor {
	return map[string]registry.Constructor{
		"greet": func(spec task.Spec, ctx *task.Context) (task.Task, error) {
			return &stubRunTask{Base: task.NewBase(spec, ctx)}, nil
		},
	}
}

type stubRunTask struct {
	task.Base
}

func (s *stubRunTask) Run(context.Context) error {
	who, _ := s.Spec().Fields["who"].(string)
	s.Context().Scratchpad["seen"] = who
	return nil
}

func TestRunSubprocessExecutesAndRespondsThenExitsOnShutdown(t *testing.T) {
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- RunSubprocess("w1", reqR, resW, stubFactory)
	}()

	enc := gob.NewEncoder(reqW)
	dec := gob.NewDecoder(resR)

	require.NoError(t, enc.Encode(Request{
		RequestID: "req-1",
		SpecName:  "greet hello",
		State:     task.StateRunning,
		Fields:    map[string]any{"who": "world"},
	}))

	var res Result
	require.NoError(t, dec.Decode(&res))
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, task.StatePendingValidation, res.NextState)
	assert.Equal(t, "world", res.LocalScratchpad["seen"])
	assert.Equal(t, manifest.ResultSuccess, res.Manifest.Result)

	require.NoError(t, enc.Encode(Request{Shutdown: true}))
	require.NoError(t, <-done)

	reqW.Close()
	resW.Close()
}

func TestRunSubprocessUnknownTaskTypeReturnsErr(t *testing.T) {
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- RunSubprocess("w1", reqR, resW, stubFactory)
	}()

	enc := gob.NewEncoder(reqW)
	dec := gob.NewDecoder(resR)

	require.NoError(t, enc.Encode(Request{
		RequestID: "req-1",
		SpecName:  "mystery thing",
		State:     task.StateRunning,
		Fields:    map[string]any{},
	}))

	var res Result
	require.NoError(t, dec.Decode(&res))
	assert.NotEmpty(t, res.Err)

	require.NoError(t, enc.Encode(Request{Shutdown: true}))
	require.NoError(t, <-done)

	reqW.Close()
	resW.Close()
}
