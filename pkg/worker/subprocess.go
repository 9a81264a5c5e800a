package worker

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/opentargets/otter/pkg/log"
	otterregistry "github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/task"
)

// Factory returns the task-type constructor table a worker subprocess uses
// to rebuild a Task from an already-substituted Spec. It is supplied by
// cmd/otter, which is the one place that knows about every built-in and
// user-registered task type — the worker package itself stays ignorant of
// what task types exist, exactly like the original worker, which never
// inspects anything beyond the Task object it is handed.
type Factory func() map[string]otterregistry.Constructor

// RunSubprocess is the entry point executed inside a re-exec'd worker
// process (OTTER_PROCESS_ROLE=W is set by the parent before exec). It
// drains Requests from r (the subprocess's stdin) one at a time, executes
// exactly one state transition per Request, and writes the Result to w
// (the subprocess's stdout). It returns when a Shutdown request arrives or
// the input stream closes.
func RunSubprocess(workerID string, r io.Reader, w io.Writer, factory Factory) error {
	dec := gob.NewDecoder(r)
	enc := gob.NewEncoder(w)
	constructors := factory()

	logger := log.WithWorker(workerID)
	logger.Info().Msg("worker started")
	defer logger.Info().Msg("worker shutting down")

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decoding request: %w", err)
		}

		if req.Shutdown {
			return nil
		}

		logger.Info().Str("request_id", req.RequestID).Str("task", req.SpecName).Msg("executing task")
		result := executeRequest(req, constructors)
		result.RequestID = req.RequestID
		logger.Info().Str("request_id", req.RequestID).Str("task", req.SpecName).Str("next_state", string(result.NextState)).Msg("completed task")

		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	}
}

func executeRequest(req Request, constructors map[string]otterregistry.Constructor) Result {
	spec := task.Spec{
		Name:                    req.SpecName,
		Requires:                req.Requires,
		ScratchpadIgnoreMissing: req.ScratchpadIgnoreMissing,
		Fields:                  req.Fields,
	}

	ctx := task.NewContext(nil, context.Background())
	ctx.State = req.State
	ctx.Global = req.GlobalScratchpad

	ctor, ok := constructors[spec.TaskType()]
	if !ok {
		return Result{SpecName: spec.Name, Err: fmt.Sprintf("unknown task type %q", spec.TaskType())}
	}

	t, err := ctor(spec, ctx)
	if err != nil {
		return Result{SpecName: spec.Name, Err: err.Error()}
	}
	if req.Manifest != nil {
		if seeder, ok := t.(task.ManifestSeeder); ok {
			seeder.SetManifest(req.Manifest)
		}
	}

	if req.Abort {
		task.Abort(t)
		return Result{
			SpecName:  spec.Name,
			NextState: task.StateDone,
			Manifest:  t.Manifest(),
		}
	}

	method := task.GetExecutionMethod(req.State)
	switch method {
	case task.MethodRun:
		_ = task.Report(t, method, func() error {
			return t.Run(context.Background())
		})
	case task.MethodValidate:
		if v, ok := t.(task.Validator); ok {
			_ = task.Report(t, method, func() error {
				return v.Validate(context.Background())
			})
		}
	}

	hasChildren := len(ctx.Specs) > 0
	nextState, err := task.GetNextState(req.State, hasChildren)
	if err != nil {
		return Result{SpecName: spec.Name, Err: err.Error()}
	}

	children := make([]ChildSpec, len(ctx.Specs))
	for i, s := range ctx.Specs {
		children[i] = toChildSpec(s)
	}

	return Result{
		SpecName:        spec.Name,
		NextState:       nextState,
		Manifest:        t.Manifest(),
		NewSpecs:        children,
		LocalScratchpad: ctx.Scratchpad,
	}
}
