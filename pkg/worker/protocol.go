package worker

import (
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/task"
)

// Request is sent from the coordinator process to a worker subprocess over
// its stdin, encoded with encoding/gob. It carries everything the worker
// needs to execute exactly one state transition of one task without
// consulting anything outside the message: the worker never inspects
// `requires` or any other task.
type Request struct {
	// RequestID correlates one dispatch round trip across the coordinator
	// and worker subprocess logs.
	RequestID               string
	SpecName                string
	TaskType                string
	Requires                []string
	ScratchpadIgnoreMissing bool
	Fields                  map[string]any

	// State is the task's state before this dispatch; the worker advances
	// it exactly once via task.GetNextState.
	State task.State

	// Manifest, when non-nil, seeds the manifest of the task the worker
	// reconstructs for this dispatch. The worker rebuilds a fresh Task
	// value from Fields on every request (it holds no state across
	// dispatches), so the coordinator must hand back the manifest it
	// received from the previous dispatch to preserve timestamps and
	// artifacts recorded during an earlier state.
	Manifest *manifest.TaskManifest

	// GlobalScratchpad is a read-only snapshot the task may read from
	// during substitution and execution.
	GlobalScratchpad scratchpad.Scratchpad

	// Abort, when true, tells the worker to mark the task ABORTED without
	// invoking run/validate.
	Abort bool

	// Shutdown, when true, carries no task: it tells the worker subprocess
	// to exit its loop cleanly.
	Shutdown bool
}

// Result is sent back from a worker subprocess to the coordinator over its
// stdout.
type Result struct {
	RequestID string
	SpecName  string

	// NextState is the state GetNextState computed for this dispatch.
	NextState task.State

	Manifest *manifest.TaskManifest

	// NewSpecs are child specs the task pushed into its context during
	// RUNNING; non-empty only when NextState == WAITING_FOR_SUBTASKS.
	NewSpecs []ChildSpec

	// LocalScratchpad is the task's local scratchpad, to be merged into
	// the coordinator's global scratchpad (first-writer-wins) once the
	// task reaches PENDING_VALIDATION.
	LocalScratchpad scratchpad.Scratchpad

	// Err carries a non-empty message when the worker itself failed to
	// build or dispatch the task (distinct from a task-body failure,
	// which is instead recorded in Manifest.FailureReason).
	Err string
}

// ChildSpec is the wire shape of a task.Spec emitted by a running task.
type ChildSpec struct {
	Name                    string
	Requires                []string
	ScratchpadIgnoreMissing bool
	Fields                  map[string]any
}

func toChildSpec(s task.Spec) ChildSpec {
	return ChildSpec{
		Name:                    s.Name,
		Requires:                s.Requires,
		ScratchpadIgnoreMissing: s.ScratchpadIgnoreMissing,
		Fields:                  s.Fields,
	}
}

// ToSpec converts a wire ChildSpec back into a task.Spec.
func (c ChildSpec) ToSpec() task.Spec {
	return task.Spec{
		Name:                    c.Name,
		Requires:                c.Requires,
		ScratchpadIgnoreMissing: c.ScratchpadIgnoreMissing,
		Fields:                  c.Fields,
	}
}
