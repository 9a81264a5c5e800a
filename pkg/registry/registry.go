// Package registry implements the TaskRegistry: discovery of task types and
// construction of a Task from a Spec with scratchpad substitution applied.
package registry

import (
	"context"
	"fmt"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/task"
)

// Constructor builds a concrete Task from a (substituted) Spec and a fresh
// Context. Built-in and user-provided task types register one of these
// keyed by their task type token.
type Constructor func(spec task.Spec, ctx *task.Context) (task.Task, error)

// Registry maps a task type token to its constructor.
type Registry struct {
	cfg        *config.Config
	scratchpad scratchpad.Scratchpad
	types      map[string]Constructor
	seen       map[string]bool
}

// New builds an empty registry bound to the run config and global
// scratchpad used to substitute every Spec it builds.
func New(cfg *config.Config, sp scratchpad.Scratchpad) *Registry {
	return &Registry{
		cfg:        cfg,
		scratchpad: sp,
		types:      map[string]Constructor{},
		seen:       map[string]bool{},
	}
}

// Register adds or replaces the constructor for a task type. Analogous to
// the original's module-introspection pass, simplified to an explicit call
// since Go has no runtime module discovery: callers register each built-in
// or user-provided task type once at startup.
func (r *Registry) Register(taskType string, ctor Constructor) {
	r.types[taskType] = ctor
}

// Build applies scratchpad substitution to spec's fields, then constructs
// the Task. Returns errs.ErrDuplicateTask if name was already built in this
// registry's lifetime, errs.ErrTaskBuild if the task type is unknown or
// construction fails, and errs.ErrScratchpad if substitution fails.
func (r *Registry) Build(spec task.Spec) (task.Task, error) {
	if r.seen[spec.Name] {
		return nil, fmt.Errorf("task %q already built: %w", spec.Name, errs.ErrDuplicateTask)
	}

	ctor, ok := r.types[spec.TaskType()]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q: %w: %w", spec.TaskType(), errs.ErrTaskBuild, errs.ErrNotFound)
	}

	substituted, err := r.substituteFields(spec)
	if err != nil {
		return nil, err
	}

	ctx := task.NewContext(r.cfg, context.Background())

	t, err := ctor(substituted, ctx)
	if err != nil {
		return nil, fmt.Errorf("building task %q: %w", spec.Name, errs.ErrTaskBuild)
	}

	r.seen[spec.Name] = true
	return t, nil
}

func (r *Registry) substituteFields(spec task.Spec) (task.Spec, error) {
	replaced, err := r.scratchpad.Substitute(fieldsToAny(spec.Fields), spec.ScratchpadIgnoreMissing)
	if err != nil {
		return task.Spec{}, err
	}
	fields, ok := replaced.(map[string]any)
	if !ok {
		fields = map[string]any{}
	}
	spec.Fields = fields
	return spec, nil
}

func fieldsToAny(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}
