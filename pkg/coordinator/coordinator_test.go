package coordinator

import (
	"context"
	"encoding/gob"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/step"
	"github.com/opentargets/otter/pkg/task"
	"github.com/opentargets/otter/pkg/worker"
)

// echoTask is a minimal task.Task used only by this test suite. It can set
// a scratchpad key, emit child specs, or fail, all driven by its spec
// fields, which is enough to exercise every coordinator state transition
// without needing a real built-in task type.
type echoTask struct {
	task.Base
}

func newEchoTask(spec task.Spec, ctx *task.Context) (task.Task, error) {
	return &echoTask{Base: task.NewBase(spec, ctx)}, nil
}

func (e *echoTask) Run(context.Context) error {
	fields := e.Spec().Fields
	if fail, _ := fields["fail"].(bool); fail {
		return errors.New("boom")
	}
	if key, ok := fields["set"].(string); ok {
		if value, ok := fields["value"].(string); ok {
			e.Context().Scratchpad[key] = value
		}
	}
	if children, ok := fields["children"].([]any); ok {
		for _, c := range children {
			name, _ := c.(string)
			e.Context().Specs = append(e.Context().Specs, task.Spec{Name: name, Fields: map[string]any{}})
		}
	}
	return nil
}

// pipeDispatcher drives a real worker.RunSubprocess loop over in-memory
// pipes instead of a re-exec'd OS process, so the coordinator tests run
// against the actual gob wire protocol and state machine.
type pipeDispatcher struct {
	enc     *gob.Encoder
	results chan worker.Result
}

func newPipeDispatcher(t *testing.T, factory worker.Factory) *pipeDispatcher {
	t.Helper()
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()

	d := &pipeDispatcher{
		enc:     gob.NewEncoder(reqW),
		results: make(chan worker.Result, 16),
	}

	go func() {
		_ = worker.RunSubprocess("test-worker", reqR, resW, factory)
	}()

	go func() {
		dec := gob.NewDecoder(resR)
		for {
			var res worker.Result
			if err := dec.Decode(&res); err != nil {
				close(d.results)
				return
			}
			d.results <- res
		}
	}()

	t.Cleanup(func() {
		_ = d.enc.Encode(&worker.Request{Shutdown: true})
		_ = reqW.Close()
	})

	return d
}

func (d *pipeDispatcher) Submit(req worker.Request) {
	_ = d.enc.Encode(&req)
}

func (d *pipeDispatcher) Results() <-chan worker.Result {
	return d.results
}

func newTestRegistry() *registry.Registry {
	sp := scratchpad.New()
	reg := registry.New(nil, sp)
	reg.Register("echo", newEchoTask)
	return reg
}

func testFactory() map[string]registry.Constructor {
	return map[string]registry.Constructor{"echo": newEchoTask}
}

func TestCoordinatorRunSingleTaskSucceeds(t *testing.T) {
	specs := []task.Spec{
		{Name: "echo one", Fields: map[string]any{"set": "greeting", "value": "hi"}},
	}
	s := step.New("test-step", specs)
	reg := newTestRegistry()
	global := scratchpad.New()
	dispatcher := newPipeDispatcher(t, testFactory)

	c := New(s, reg, dispatcher, global)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.Contains(t, s.Tasks, "echo one")
	assert.Equal(t, "hi", global["greeting"])

	s.Manifest.Recalculate()
	assert.Equal(t, "success", string(s.Manifest.Result))
}

func TestCoordinatorRunTaskWithSubtasks(t *testing.T) {
	specs := []task.Spec{
		{Name: "echo parent", Fields: map[string]any{"children": []any{"echo child"}}},
	}
	s := step.New("test-step", specs)
	reg := newTestRegistry()
	global := scratchpad.New()
	dispatcher := newPipeDispatcher(t, testFactory)

	c := New(s, reg, dispatcher, global)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.Contains(t, s.Tasks, "echo parent")
	require.Contains(t, s.Tasks, "echo child")
	assert.Equal(t, "done", string(task.StateDone))
}

func TestCoordinatorRunTaskFailurePropagates(t *testing.T) {
	specs := []task.Spec{
		{Name: "echo boom", Fields: map[string]any{"fail": true}},
	}
	s := step.New("test-step", specs)
	reg := newTestRegistry()
	global := scratchpad.New()
	dispatcher := newPipeDispatcher(t, testFactory)

	c := New(s, reg, dispatcher, global)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCoordinatorRunWithDependentSpecs(t *testing.T) {
	specs := []task.Spec{
		{Name: "echo first", Fields: map[string]any{"set": "k", "value": "v"}},
		{Name: "echo second", Requires: []string{"echo first"}, Fields: map[string]any{}},
	}
	s := step.New("test-step", specs)
	reg := newTestRegistry()
	global := scratchpad.New()
	dispatcher := newPipeDispatcher(t, testFactory)

	c := New(s, reg, dispatcher, global)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.Contains(t, s.Tasks, "echo first")
	require.Contains(t, s.Tasks, "echo second")
}
