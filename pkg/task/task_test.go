package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/manifest"
)

type stubTask struct {
	Base
	runErr error
}

func (s *stubTask) Run(context.Context) error { return s.runErr }

func newStub(t *testing.T, runErr error) *stubTask {
	t.Helper()
	ctx := NewContext(nil, context.Background())
	return &stubTask{Base: NewBase(Spec{Name: "copy x"}, ctx), runErr: runErr}
}

func TestGetNextStateRunningWithoutChildren(t *testing.T) {
	next, err := GetNextState(StateRunning, false)
	require.NoError(t, err)
	assert.Equal(t, StatePendingValidation, next)
}

func TestGetNextStateRunningWithChildren(t *testing.T) {
	next, err := GetNextState(StateRunning, true)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForSubtasks, next)
}

func TestGetNextStateFullSequence(t *testing.T) {
	seq := []struct {
		from State
		want State
	}{
		{StatePendingRun, StateRunning},
		{StateWaitingForSubtasks, StatePendingValidation},
		{StatePendingValidation, StateValidating},
		{StateValidating, StateDone},
	}
	for _, step := range seq {
		next, err := GetNextState(step.from, false)
		require.NoError(t, err)
		assert.Equal(t, step.want, next)
	}
}

func TestGetNextStateDoneHasNoTransition(t *testing.T) {
	_, err := GetNextState(StateDone, false)
	assert.Error(t, err)
}

func TestGetExecutionMethod(t *testing.T) {
	assert.Equal(t, MethodRun, GetExecutionMethod(StateRunning))
	assert.Equal(t, MethodValidate, GetExecutionMethod(StateValidating))
	assert.Equal(t, MethodNone, GetExecutionMethod(StatePendingRun))
}

func TestReportMarksSuccess(t *testing.T) {
	st := newStub(t, nil)
	err := Report(st, MethodRun, func() error { return st.Run(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, manifest.ResultSuccess, st.Manifest().Result)
	assert.NotNil(t, st.Manifest().StartedRunAt)
	assert.NotNil(t, st.Manifest().FinishedRunAt)
}

func TestReportMarksFailureAndReturnsError(t *testing.T) {
	st := newStub(t, errors.New("boom"))
	err := Report(st, MethodRun, func() error { return st.Run(context.Background()) })
	require.Error(t, err)
	assert.Equal(t, manifest.ResultFailure, st.Manifest().Result)
	assert.Equal(t, "boom", st.Manifest().FailureReason)
}

func TestAbortMarksManifestAborted(t *testing.T) {
	st := newStub(t, nil)
	Abort(st)
	assert.Equal(t, manifest.ResultAborted, st.Manifest().Result)
}

func TestSpecTaskType(t *testing.T) {
	assert.Equal(t, "copy", Spec{Name: "copy ingest data"}.TaskType())
	assert.Equal(t, "hello_world", Spec{Name: "hello_world"}.TaskType())
}
