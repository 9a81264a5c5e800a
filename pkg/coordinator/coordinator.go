// Package coordinator runs a single step's dynamic task DAG to completion:
// it promotes specs to tasks as their dependencies finish, dispatches each
// task's next state transition to the worker pool, and folds results back
// into the step's manifest until every task (including ones discovered
// along the way) reaches DONE.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/metrics"
	"github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/step"
	"github.com/opentargets/otter/pkg/task"
	"github.com/opentargets/otter/pkg/worker"
)

// PollingInterval is how often the coordinator loop wakes up to re-check
// spec readiness when it has nothing else to do.
const PollingInterval = 500 * time.Millisecond

// taskRecord is the coordinator's bookkeeping for one spec's task across
// its whole lifetime. Unlike the original, where a Task object lives for
// the process's duration, each dispatch round trip here reconstructs a
// fresh Task value inside the worker subprocess; taskRecord is what
// persists across those reconstructions on the coordinator side.
type taskRecord struct {
	spec     task.Spec
	state    task.State
	manifest *manifest.TaskManifest
}

// remoteTask satisfies task.Task so a taskRecord can be placed into
// step.Step.Tasks, whose API and DONE-state invariants predate the
// out-of-process worker architecture. Its Run is never called: all actual
// execution happens inside a worker subprocess, dispatched and awaited by
// the coordinator.
type remoteTask struct {
	spec task.Spec
	m    *manifest.TaskManifest
}

func (r *remoteTask) Spec() task.Spec                  { return r.spec }
func (r *remoteTask) Context() *task.Context           { return nil }
func (r *remoteTask) Manifest() *manifest.TaskManifest { return r.m }
func (r *remoteTask) Run(context.Context) error        { return nil }

// Dispatcher is the subset of worker.Pool the coordinator depends on. It
// exists so tests can drive the coordinator loop against a fake worker
// without spawning real subprocesses.
type Dispatcher interface {
	Submit(req worker.Request)
	Results() <-chan worker.Result
}

// Coordinator evolves one step's DAG to completion by dispatching work to a
// Dispatcher and folding results back into records and the step manifest.
type Coordinator struct {
	step     *step.Step
	registry *registry.Registry
	pool     Dispatcher
	global   scratchpad.Scratchpad

	remaining []task.Spec
	records   map[string]*taskRecord

	// subtasksOf maps a parent task name to the child spec names it
	// emitted; used to know when a WAITING_FOR_SUBTASKS parent can
	// advance once every child it spawned reaches DONE.
	subtasksOf map[string][]string
}

// New builds a Coordinator for s, using reg to build tasks from ready
// specs, pool to dispatch state transitions, and global as the shared
// scratchpad tasks read from and publish sentinels into.
func New(s *step.Step, reg *registry.Registry, pool Dispatcher, global scratchpad.Scratchpad) *Coordinator {
	return &Coordinator{
		step:       s,
		registry:   reg,
		pool:       pool,
		global:     global,
		remaining:  append([]task.Spec(nil), s.Specs...),
		records:    map[string]*taskRecord{},
		subtasksOf: map[string][]string{},
	}
}

// Run evolves the step until every spec (including dynamically emitted
// ones) has a task that reached DONE, or a task fails and aborts the step.
// It returns errs.ErrStepFailed wrapping the failing task's reason.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := log.WithStep(c.step.Name)
	logger.Info().Msg("starting coordinator")
	c.step.Start()

	var failure error

	for !c.isComplete() {
		select {
		case <-ctx.Done():
			failure = ctx.Err()
		default:
		}
		if failure != nil {
			break
		}

		timer := metrics.NewTimer()

		if err := c.drainResults(ctx); err != nil {
			failure = err
			break
		}
		c.completeWaitingParents()
		if err := c.promoteReadySpecs(); err != nil {
			failure = err
			break
		}

		metrics.SpecsPending.Set(float64(len(c.remaining)))
		timer.ObserveDuration(metrics.CoordinatorTickDuration)

		if c.isComplete() {
			break
		}

		select {
		case <-ctx.Done():
			failure = ctx.Err()
		case <-time.After(PollingInterval):
		}
	}

	c.step.Finish()
	if failure != nil {
		logger.Error().Err(failure).Msg("step failed")
		return failure
	}
	logger.Info().Str("result", string(c.step.Manifest.Result)).Msg("step complete")
	return nil
}

// isComplete reports whether every spec seen so far (initial and
// dynamically emitted) has a record in state DONE.
func (c *Coordinator) isComplete() bool {
	if len(c.remaining) > 0 {
		return false
	}
	if len(c.records) == 0 {
		return len(c.step.Specs) == 0
	}
	for _, rec := range c.records {
		if rec.state != task.StateDone {
			return false
		}
	}
	return true
}

// promoteReadySpecs builds a task for every remaining spec whose
// dependencies are all DONE, dispatching each to RUNNING. A build failure
// (unknown task type, duplicate name, bad scratchpad substitution) aborts
// the whole step, matching the original's TaskBuildError propagating out
// of the coordinator loop.
func (c *Coordinator) promoteReadySpecs() error {
	var stillWaiting []task.Spec
	for _, spec := range c.remaining {
		if !c.isReady(spec) {
			stillWaiting = append(stillWaiting, spec)
			continue
		}
		if err := c.buildAndDispatch(spec); err != nil {
			return err
		}
	}
	c.remaining = stillWaiting
	return nil
}

func (c *Coordinator) isReady(spec task.Spec) bool {
	for _, name := range spec.Requires {
		rec, ok := c.records[name]
		if !ok || rec.state != task.StateDone {
			return false
		}
	}
	return true
}

func (c *Coordinator) buildAndDispatch(spec task.Spec) error {
	t, err := c.registry.Build(spec)
	if err != nil {
		return fmt.Errorf("building task %q: %w", spec.Name, err)
	}

	// A freshly built task sits at PENDING_RUN, which executes nothing;
	// the coordinator advances it straight to RUNNING, the state it
	// actually dispatches, mirroring how the original worker advances
	// PENDING_RUN -> RUNNING itself just before invoking Run.
	rec := &taskRecord{spec: spec, state: task.StateRunning, manifest: t.Manifest()}
	c.records[spec.Name] = rec
	c.step.Tasks[spec.Name] = &remoteTask{spec: spec, m: rec.manifest}
	c.step.UpsertTaskManifest(c.step.Tasks[spec.Name])

	metrics.TasksTotal.WithLabelValues(string(task.StateRunning)).Inc()
	c.dispatch(rec)
	return nil
}

// dispatch sends a Request to execute rec's current state (always RUNNING
// or VALIDATING: the only two states a worker can act on). Manifest
// continuity across the worker's per-dispatch reconstruction relies on
// always forwarding the manifest the previous dispatch returned.
func (c *Coordinator) dispatch(rec *taskRecord) {
	log.WithTask(rec.spec.Name).Debug().Str("state", string(rec.state)).Msg("dispatching task")
	c.pool.Submit(worker.Request{
		SpecName:                rec.spec.Name,
		TaskType:                rec.spec.TaskType(),
		Requires:                rec.spec.Requires,
		ScratchpadIgnoreMissing: rec.spec.ScratchpadIgnoreMissing,
		Fields:                  rec.spec.Fields,
		State:                   rec.state,
		Manifest:                rec.manifest,
		GlobalScratchpad:        c.global,
	})
}

// drainResults consumes every Result currently waiting on the pool's
// channel without blocking once it is empty, folding each into its record.
func (c *Coordinator) drainResults(ctx context.Context) error {
	for {
		select {
		case res, ok := <-c.pool.Results():
			if !ok {
				return nil
			}
			if err := c.handleResult(res); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

// handleResult folds one completed dispatch into its taskRecord. res.NextState
// is the "resting" state GetNextState computed from the state the worker
// just executed: WAITING_FOR_SUBTASKS or PENDING_VALIDATION after RUNNING,
// DONE after VALIDATING. PENDING_VALIDATION is not itself executable, so it
// is immediately advanced to VALIDATING and redispatched in the same tick —
// mirroring the original coordinator's own get_next_state call on a task
// fresh back from RUNNING.
func (c *Coordinator) handleResult(res worker.Result) error {
	rec, ok := c.records[res.SpecName]
	if !ok {
		return fmt.Errorf("result for unknown task %q", res.SpecName)
	}

	if res.Err != "" {
		return fmt.Errorf("task %q: %s: %w", res.SpecName, res.Err, errs.ErrStepFailed)
	}

	rec.manifest = res.Manifest
	executedState := rec.state

	logger := log.WithTask(res.SpecName)
	logger.Debug().Str("from", string(executedState)).Str("to", string(res.NextState)).Msg("task advanced")

	if rec.manifest != nil && rec.manifest.Result == manifest.ResultFailure {
		rec.state = task.StateDone
		c.step.Tasks[res.SpecName] = &remoteTask{spec: rec.spec, m: rec.manifest}
		c.step.UpsertTaskManifest(c.step.Tasks[res.SpecName])
		metrics.TasksFailed.Inc()
		switch executedState {
		case task.StateRunning:
			return fmt.Errorf("task %q run failed: %s: %w: %w", res.SpecName, rec.manifest.FailureReason, errs.ErrTaskRun, errs.ErrStepFailed)
		case task.StateValidating:
			return fmt.Errorf("task %q validation failed: %s: %w: %w", res.SpecName, rec.manifest.FailureReason, errs.ErrTaskValidation, errs.ErrStepFailed)
		default:
			return fmt.Errorf("task %q failed: %s: %w", res.SpecName, rec.manifest.FailureReason, errs.ErrStepFailed)
		}
	}

	c.step.Tasks[res.SpecName] = &remoteTask{spec: rec.spec, m: rec.manifest}

	switch res.NextState {
	case task.StateWaitingForSubtasks:
		rec.state = task.StateWaitingForSubtasks
		c.addChildSpecs(rec, res)
		c.mergeScratchpad(res.LocalScratchpad)
	case task.StatePendingValidation:
		c.addChildSpecs(rec, res)
		c.mergeScratchpad(res.LocalScratchpad)
		rec.state = task.StateValidating
		c.dispatch(rec)
	case task.StateDone:
		rec.state = task.StateDone
		c.step.UpsertTaskManifest(c.step.Tasks[res.SpecName])
		metrics.TasksSucceeded.Inc()
		metrics.TasksTotal.WithLabelValues(string(task.StateDone)).Inc()
	}

	return nil
}

func (c *Coordinator) addChildSpecs(rec *taskRecord, res worker.Result) {
	if len(res.NewSpecs) == 0 {
		return
	}
	children := make([]string, 0, len(res.NewSpecs))
	for _, cs := range res.NewSpecs {
		spec := cs.ToSpec()
		c.remaining = append(c.remaining, spec)
		children = append(children, spec.Name)
	}
	c.subtasksOf[rec.spec.Name] = append(c.subtasksOf[rec.spec.Name], children...)
	log.WithTask(rec.spec.Name).Info().Int("count", len(children)).Msg("task generated new specs")
}

func (c *Coordinator) mergeScratchpad(local scratchpad.Scratchpad) {
	if len(local) == 0 {
		return
	}
	c.global.Merge(local)
}

// completeWaitingParents advances every WAITING_FOR_SUBTASKS record whose
// children have all reached DONE to PENDING_VALIDATION, then immediately
// re-dispatches it to VALIDATING. Repeats until a pass finds nothing left
// to complete, so a chain of nested parents all resolve in one tick.
func (c *Coordinator) completeWaitingParents() {
	for {
		completedAny := false
		for name, children := range c.subtasksOf {
			rec, ok := c.records[name]
			if !ok || rec.state != task.StateWaitingForSubtasks {
				continue
			}
			if !c.allDone(children) {
				continue
			}
			// GetNextState(WAITING_FOR_SUBTASKS) lands on PENDING_VALIDATION,
			// which is not itself executable, so advance straight to
			// VALIDATING and redispatch, same as the PENDING_VALIDATION
			// branch in handleResult.
			if _, err := task.GetNextState(rec.state, false); err != nil {
				log.WithTask(name).Error().Err(err).Msg("cannot advance waiting task")
				delete(c.subtasksOf, name)
				completedAny = true
				continue
			}
			rec.state = task.StateValidating
			log.WithTask(name).Info().Msg("all subtasks done, resuming parent")
			c.dispatch(rec)
			delete(c.subtasksOf, name)
			completedAny = true
		}
		if !completedAny {
			return
		}
	}
}

func (c *Coordinator) allDone(names []string) bool {
	for _, name := range names {
		rec, ok := c.records[name]
		if !ok || rec.state != task.StateDone {
			return false
		}
	}
	return true
}
