// Package manifest implements the hierarchical run record (root -> steps ->
// tasks) with result rollup, and the ManifestManager that persists it under
// optimistic concurrency against a local cache and, optionally, a remote
// release.
package manifest

import (
	"encoding/json"
	"time"
)

// Result is the outcome of a Task, Step, or the whole run.
type Result string

const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultAborted Result = "aborted"
)

// Artifact is a lineage record attached to a TaskManifest. Source and
// Destination may each be a single URI or a list; ArtifactValue captures
// both shapes for JSON round-tripping.
type Artifact struct {
	Source      ArtifactValue `json:"source"`
	Destination ArtifactValue `json:"destination"`
}

// ArtifactValue holds either a single string or a list of strings,
// preserving whichever shape was present on the wire.
type ArtifactValue struct {
	single string
	multi  []string
	isList bool
}

// SingleArtifact builds an ArtifactValue from one URI.
func SingleArtifact(v string) ArtifactValue { return ArtifactValue{single: v} }

// ListArtifact builds an ArtifactValue from several URIs.
func ListArtifact(v []string) ArtifactValue { return ArtifactValue{multi: v, isList: true} }

func (a ArtifactValue) MarshalJSON() ([]byte, error) {
	if a.isList {
		return json.Marshal(a.multi)
	}
	return json.Marshal(a.single)
}

// GobEncode/GobDecode delegate to the JSON codec so ArtifactValue survives
// the worker subprocess's gob pipe despite its unexported fields (gob
// otherwise silently drops fields with no exported representation).
func (a ArtifactValue) GobEncode() ([]byte, error) { return a.MarshalJSON() }

func (a *ArtifactValue) GobDecode(data []byte) error { return a.UnmarshalJSON(data) }

func (a *ArtifactValue) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		a.multi = list
		a.isList = true
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	a.single = single
	a.isList = false
	return nil
}

// TaskManifest records one task's lifecycle within a step. Fields not
// recognized by this struct round-trip unmodified via Extra, matching the
// original model's extra='allow' behavior.
type TaskManifest struct {
	Name                  string     `json:"name"`
	Result                Result     `json:"result"`
	StartedRunAt          *time.Time `json:"started_run_at,omitempty"`
	FinishedRunAt         *time.Time `json:"finished_run_at,omitempty"`
	StartedValidationAt   *time.Time `json:"started_validation_at,omitempty"`
	FinishedValidationAt  *time.Time `json:"finished_validation_at,omitempty"`
	Log                   []string   `json:"log"`
	Artifacts             []Artifact `json:"artifacts"`
	FailureReason         string     `json:"failure_reason,omitempty"`
	Extra                 map[string]json.RawMessage `json:"-"`
}

// NewTaskManifest returns a fresh, pending TaskManifest for name.
func NewTaskManifest(name string) *TaskManifest {
	return &TaskManifest{Name: name, Result: ResultPending}
}

// RunElapsed is a computed field: the run duration, populated only once
// both of its timestamps are set.
func (t *TaskManifest) RunElapsed() *float64 {
	return elapsedBetween(t.StartedRunAt, t.FinishedRunAt)
}

// ValidationElapsed is a computed field: the validation duration.
func (t *TaskManifest) ValidationElapsed() *float64 {
	return elapsedBetween(t.StartedValidationAt, t.FinishedValidationAt)
}

// Elapsed is the sum of RunElapsed and ValidationElapsed, populated only
// once both are available.
func (t *TaskManifest) Elapsed() *float64 {
	run := t.RunElapsed()
	val := t.ValidationElapsed()
	if run == nil || val == nil {
		return nil
	}
	sum := *run + *val
	return &sum
}

func elapsedBetween(start, end *time.Time) *float64 {
	if start == nil || end == nil {
		return nil
	}
	secs := end.Sub(*start).Seconds()
	return &secs
}

// taskManifestWire is the JSON shape of TaskManifest, including the
// computed fields and a merged-in extras map.
type taskManifestWire struct {
	Name                 string     `json:"name"`
	Result               Result     `json:"result"`
	StartedRunAt         *time.Time `json:"started_run_at,omitempty"`
	FinishedRunAt        *time.Time `json:"finished_run_at,omitempty"`
	StartedValidationAt  *time.Time `json:"started_validation_at,omitempty"`
	FinishedValidationAt *time.Time `json:"finished_validation_at,omitempty"`
	RunElapsed           *float64   `json:"run_elapsed,omitempty"`
	ValidationElapsed    *float64   `json:"validation_elapsed,omitempty"`
	Elapsed              *float64   `json:"elapsed,omitempty"`
	Log                  []string   `json:"log"`
	Artifacts            []Artifact `json:"artifacts"`
	FailureReason        string     `json:"failure_reason,omitempty"`
}

func (t TaskManifest) MarshalJSON() ([]byte, error) {
	wire := taskManifestWire{
		Name:                 t.Name,
		Result:               t.Result,
		StartedRunAt:         t.StartedRunAt,
		FinishedRunAt:        t.FinishedRunAt,
		StartedValidationAt:  t.StartedValidationAt,
		FinishedValidationAt: t.FinishedValidationAt,
		RunElapsed:           t.RunElapsed(),
		ValidationElapsed:    t.ValidationElapsed(),
		Elapsed:              t.Elapsed(),
		Log:                  t.Log,
		Artifacts:            t.Artifacts,
		FailureReason:        t.FailureReason,
	}
	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (t *TaskManifest) UnmarshalJSON(data []byte) error {
	var wire taskManifestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.Name = wire.Name
	t.Result = wire.Result
	t.StartedRunAt = wire.StartedRunAt
	t.FinishedRunAt = wire.FinishedRunAt
	t.StartedValidationAt = wire.StartedValidationAt
	t.FinishedValidationAt = wire.FinishedValidationAt
	t.Log = wire.Log
	t.Artifacts = wire.Artifacts
	t.FailureReason = wire.FailureReason

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"name": true, "result": true, "started_run_at": true, "finished_run_at": true,
		"started_validation_at": true, "finished_validation_at": true, "run_elapsed": true,
		"validation_elapsed": true, "elapsed": true, "log": true, "artifacts": true,
		"failure_reason": true,
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		t.Extra = extra
	}
	return nil
}

// StepManifest groups TaskManifests under a named step and rolls up a
// Result.
type StepManifest struct {
	Name          string          `json:"name"`
	Result        Result          `json:"result"`
	StartedRunAt  *time.Time      `json:"started_run_at,omitempty"`
	FinishedRunAt *time.Time      `json:"finished_run_at,omitempty"`
	Log           []string        `json:"log"`
	Tasks         []*TaskManifest `json:"tasks"`
	Artifacts     []Artifact      `json:"artifacts"`
}

// NewStepManifest returns a fresh, pending StepManifest for name.
func NewStepManifest(name string) *StepManifest {
	return &StepManifest{Name: name, Result: ResultPending}
}

// Elapsed is a computed field: the step's wall-clock duration.
func (s *StepManifest) Elapsed() *float64 {
	return elapsedBetween(s.StartedRunAt, s.FinishedRunAt)
}

// UpsertTask inserts task's manifest, replacing any existing entry with the
// same name, and appends all of the task's artifacts to the step's own
// artifact list on every call, including when it replaces an entry.
func (s *StepManifest) UpsertTask(task *TaskManifest) {
	for i, existing := range s.Tasks {
		if existing.Name == task.Name {
			s.Tasks[i] = task
			if len(task.Artifacts) > 0 {
				s.Artifacts = append(s.Artifacts, task.Artifacts...)
			}
			return
		}
	}
	s.Tasks = append(s.Tasks, task)
	if len(task.Artifacts) > 0 {
		s.Artifacts = append(s.Artifacts, task.Artifacts...)
	}
}

// Recalculate rolls up Result from Tasks: any FAILURE/ABORTED -> FAILURE,
// all SUCCESS -> SUCCESS, else PENDING.
func (s *StepManifest) Recalculate() {
	s.Result = rollup(taskResults(s.Tasks))
}

func taskResults(tasks []*TaskManifest) []Result {
	out := make([]Result, len(tasks))
	for i, t := range tasks {
		out[i] = t.Result
	}
	return out
}

func rollup(results []Result) Result {
	if len(results) == 0 {
		return ResultPending
	}
	allSuccess := true
	for _, r := range results {
		if r == ResultFailure || r == ResultAborted {
			return ResultFailure
		}
		if r != ResultSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return ResultSuccess
	}
	return ResultPending
}

// RootManifest is the top-level run record, keyed by "<runner>_<step>".
type RootManifest struct {
	Result     Result                   `json:"result"`
	StartedAt  time.Time                `json:"started_at"`
	ModifiedAt time.Time                `json:"modified_at"`
	Log        []string                 `json:"log"`
	Steps      map[string]*StepManifest `json:"steps"`
}

// Recalculate rolls up Result from Steps with the same rule as StepManifest.
func (r *RootManifest) Recalculate() {
	results := make([]Result, 0, len(r.Steps))
	for _, s := range r.Steps {
		results = append(results, s.Result)
	}
	r.Result = rollup(results)
}
