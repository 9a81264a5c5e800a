package step

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/task"
)

type stubTask struct {
	task.Base
}

func (s *stubTask) Run(context.Context) error { return nil }

func newStubTask(t *testing.T, name string) *stubTask {
	t.Helper()
	ctx := task.NewContext(nil, context.Background())
	return &stubTask{Base: task.NewBase(task.Spec{Name: name}, ctx)}
}

func TestNewStepStartsEmpty(t *testing.T) {
	specs := []task.Spec{{Name: "copy x"}, {Name: "copy y"}}
	s := New("ingest", specs)
	assert.Equal(t, "ingest", s.Name)
	assert.Equal(t, 2, s.ExpectedSpecCount())
	assert.Empty(t, s.Tasks)
}

func TestStepStartSetsStartedAt(t *testing.T) {
	s := New("ingest", nil)
	require.Nil(t, s.Manifest.StartedRunAt)
	s.Start()
	assert.NotNil(t, s.Manifest.StartedRunAt)
}

func TestStepFinishRollsUpResult(t *testing.T) {
	s := New("ingest", nil)
	s.Start()

	ok := newStubTask(t, "copy x")
	ok.Manifest().Result = manifest.ResultSuccess
	s.UpsertTaskManifest(ok)

	s.Finish()
	assert.NotNil(t, s.Manifest.FinishedRunAt)
	assert.Equal(t, manifest.ResultSuccess, s.Manifest.Result)
}

func TestStepFinishFailureDominates(t *testing.T) {
	s := New("ingest", nil)
	s.Start()

	ok := newStubTask(t, "copy x")
	ok.Manifest().Result = manifest.ResultSuccess
	s.UpsertTaskManifest(ok)

	bad := newStubTask(t, "copy y")
	bad.Manifest().Result = manifest.ResultFailure
	s.UpsertTaskManifest(bad)

	s.Finish()
	assert.Equal(t, manifest.ResultFailure, s.Manifest.Result)
}

func TestUpsertTaskManifestReplacesByName(t *testing.T) {
	s := New("ingest", nil)

	first := newStubTask(t, "copy x")
	first.Manifest().Result = manifest.ResultPending
	s.UpsertTaskManifest(first)

	second := newStubTask(t, "copy x")
	second.Manifest().Result = manifest.ResultSuccess
	s.UpsertTaskManifest(second)

	require.Len(t, s.Manifest.Tasks, 1)
	assert.Equal(t, manifest.ResultSuccess, s.Manifest.Tasks[0].Result)
}
