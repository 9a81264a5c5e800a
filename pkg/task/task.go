// Package task defines the contract for a single unit of work: the
// declarative Spec that describes it, the TaskContext a running task
// observes and mutates, the State it moves through, and the Task interface
// itself.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/scratchpad"
)

// State is a task's position in the execution state machine. States move
// forward only; there are no back edges.
type State string

const (
	StatePendingRun           State = "pending_run"
	StateRunning              State = "running"
	StateWaitingForSubtasks   State = "waiting_for_subtasks"
	StatePendingValidation    State = "pending_validation"
	StateValidating           State = "validating"
	StateDone                 State = "done"
)

// Spec is a declarative, immutable task description. Name is unique within
// a step; by convention its first whitespace-separated token is the task
// type, used as the registry key. Fields is the task-type-specific payload,
// already scratchpad-substituted by the time a Task is built from it.
type Spec struct {
	Name                  string
	Requires              []string
	ScratchpadIgnoreMissing bool
	Fields                map[string]any
}

// TaskType returns the first whitespace-separated token of the spec name,
// the key into the task registry.
func (s Spec) TaskType() string {
	for i, r := range s.Name {
		if r == ' ' || r == '\t' {
			return s.Name[:i]
		}
	}
	return s.Name
}

// Context is the per-task runtime bundle a worker hands to a Task's Run and
// Validate methods.
type Context struct {
	Config *config.Config

	// Global is a read-only snapshot of the scratchpad as of when this
	// task was built; tasks consult it for keys not already substituted
	// into their Spec fields.
	Global scratchpad.Scratchpad

	// Scratchpad accumulates mutations this task wants published to the
	// global scratchpad once it reaches PENDING_VALIDATION. It starts
	// empty for every task: only first-writer-wins entries a task itself
	// sets belong here.
	Scratchpad scratchpad.Scratchpad

	// Specs is a buffer of new Specs the task pushes for the coordinator
	// to schedule as children. A non-empty buffer at RUNNING completion
	// routes the task through WAITING_FOR_SUBTASKS.
	Specs []Spec

	// State is the task's current position in the state machine.
	State State

	// abort is read-only to the task body: set by the worker/coordinator
	// to request cooperative cancellation.
	abort context.Context
}

// NewContext builds a fresh per-task context.
func NewContext(cfg *config.Config, abort context.Context) *Context {
	return &Context{
		Config:     cfg,
		Scratchpad: scratchpad.New(),
		State:      StatePendingRun,
		abort:      abort,
	}
}

// Aborted reports whether the worker has signaled this task to stop.
func (c *Context) Aborted() bool {
	select {
	case <-c.abort.Done():
		return true
	default:
		return false
	}
}

// SetAbort replaces the abort signal a task observes. The worker subprocess
// does not call it: it builds every Context around context.Background(), so
// Aborted reports false for the tasks it runs.
func (c *Context) SetAbort(abort context.Context) {
	c.abort = abort
}

// Task is the polymorphic execution contract. Run performs the work;
// Validate optionally checks the result (a task that does not implement
// Validator passes validation trivially).
type Task interface {
	Spec() Spec
	Context() *Context
	Manifest() *manifest.TaskManifest
	Run(ctx context.Context) error
}

// Validator is implemented by tasks whose result needs a post-run check.
type Validator interface {
	Validate(ctx context.Context) error
}

// NoValidate is an empty marker type; it adds no methods, so embedding it
// does not make a task a Validator.
type NoValidate struct{}

// Base provides the bookkeeping every concrete task needs: its spec,
// context, and manifest. Concrete task types embed it and implement Run
// (and optionally Validate).
type Base struct {
	spec     Spec
	ctx      *Context
	manifest *manifest.TaskManifest
}

// NewBase builds the common bookkeeping for a task instantiated from spec.
func NewBase(spec Spec, ctx *Context) Base {
	return Base{spec: spec, ctx: ctx, manifest: manifest.NewTaskManifest(spec.Name)}
}

func (b *Base) Spec() Spec                       { return b.spec }
func (b *Base) Context() *Context                { return b.ctx }
func (b *Base) Manifest() *manifest.TaskManifest { return b.manifest }

// SetManifest replaces the bookkeeping manifest. The worker subprocess uses
// this to seed a freshly-reconstructed task with the manifest returned by
// an earlier dispatch, so timestamps and artifacts recorded during RUNNING
// survive into the later VALIDATING dispatch of the same logical task.
func (b *Base) SetManifest(m *manifest.TaskManifest) { b.manifest = m }

// ManifestSeeder is implemented by any Task embedding Base; the worker uses
// it to restore manifest continuity across per-dispatch reconstruction.
type ManifestSeeder interface {
	SetManifest(*manifest.TaskManifest)
}

// GetNextState is purely a function of the current state, per the task
// state machine: RUNNING advances to WAITING_FOR_SUBTASKS if the task
// pushed child specs, else PENDING_VALIDATION; PENDING_VALIDATION advances
// to VALIDATING; VALIDATING and WAITING_FOR_SUBTASKS both advance to DONE
// resp. PENDING_VALIDATION.
func GetNextState(current State, hasChildren bool) (State, error) {
	switch current {
	case StatePendingRun:
		return StateRunning, nil
	case StateRunning:
		if hasChildren {
			return StateWaitingForSubtasks, nil
		}
		return StatePendingValidation, nil
	case StateWaitingForSubtasks:
		return StatePendingValidation, nil
	case StatePendingValidation:
		return StateValidating, nil
	case StateValidating:
		return StateDone, nil
	default:
		return "", fmt.Errorf("no transition from state %s: %w", current, errs.ErrTaskRun)
	}
}

// ExecutionMethod names which Task method a worker should invoke for the
// given state.
type ExecutionMethod string

const (
	MethodRun      ExecutionMethod = "run"
	MethodValidate ExecutionMethod = "validate"
	MethodNone     ExecutionMethod = ""
)

// GetExecutionMethod selects which method a worker should call to advance a
// task in the given state.
func GetExecutionMethod(state State) ExecutionMethod {
	switch state {
	case StateRunning:
		return MethodRun
	case StateValidating:
		return MethodValidate
	default:
		return MethodNone
	}
}

// Report wraps a Run or Validate call: it stamps start/finish timestamps
// into the TaskManifest, and on error records FailureReason and marks the
// manifest FAILURE; on success marks it SUCCESS. It never lets the error
// escape uncaught — callers still receive it to decide on step-level
// failure, but the manifest itself is always left consistent.
func Report(t Task, method ExecutionMethod, fn func() error) error {
	m := t.Manifest()
	now := time.Now().UTC()

	switch method {
	case MethodRun:
		m.StartedRunAt = &now
	case MethodValidate:
		m.StartedValidationAt = &now
	}

	err := fn()

	finish := time.Now().UTC()
	switch method {
	case MethodRun:
		m.FinishedRunAt = &finish
	case MethodValidate:
		m.FinishedValidationAt = &finish
	}

	if err != nil {
		m.Result = manifest.ResultFailure
		m.FailureReason = err.Error()
		return err
	}
	m.Result = manifest.ResultSuccess
	return nil
}

// Abort marks a task's manifest as ABORTED without invoking Run/Validate,
// used when the worker observes the shutdown signal before dispatch.
func Abort(t Task) {
	m := t.Manifest()
	m.Result = manifest.ResultAborted
	m.FailureReason = "aborted"
}
