// Package step ties a named step to its specs, its built tasks, and the
// StepManifest that accumulates their results.
package step

import (
	"time"

	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/task"
)

// Step represents one named DAG evaluation: a fixed initial list of Specs,
// the Tasks built from them (including any dynamically emitted ones), and
// the rolled-up StepManifest.
type Step struct {
	Name     string
	Specs    []task.Spec
	Tasks    map[string]task.Task
	Manifest *manifest.StepManifest
}

// New builds a Step from its initial spec list.
func New(name string, specs []task.Spec) *Step {
	return &Step{
		Name:     name,
		Specs:    specs,
		Tasks:    map[string]task.Task{},
		Manifest: manifest.NewStepManifest(name),
	}
}

// Start records the step's run start time.
func (s *Step) Start() {
	now := time.Now().UTC()
	s.Manifest.StartedRunAt = &now
}

// Finish records the step's run end time and rolls up its final result from
// every task's manifest.
func (s *Step) Finish() {
	now := time.Now().UTC()
	s.Manifest.FinishedRunAt = &now
	s.Manifest.Recalculate()
}

// UpsertTaskManifest records t's manifest into the step manifest, updating
// an existing entry by name or appending a new one.
func (s *Step) UpsertTaskManifest(t task.Task) {
	s.Manifest.UpsertTask(t.Manifest())
}

// ExpectedSpecCount returns the number of specs the step was loaded with.
// Specs emitted dynamically by running tasks are not counted.
func (s *Step) ExpectedSpecCount() int {
	return len(s.Specs)
}
