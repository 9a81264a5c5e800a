package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/storage"
)

func newTestConfig(t *testing.T, releaseURI string) *config.Config {
	t.Helper()
	return &config.Config{
		WorkPath:   t.TempDir(),
		ReleaseURI: releaseURI,
		RunnerName: "otter-test",
	}
}

func TestNewCreatesEmptyManifestSeededWithSteps(t *testing.T) {
	cfg := newTestConfig(t, "")

	m, err := New(context.Background(), "otter-test", []string{"ingest", "export"}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, ResultPending, m.manifest.Result)
	assert.Len(t, m.manifest.Steps, 2)
	assert.Contains(t, m.manifest.Steps, "otter-test_ingest")
	assert.Contains(t, m.manifest.Steps, "otter-test_export")
	assert.Equal(t, ResultPending, m.manifest.Steps["otter-test_ingest"].Result)
}

func TestNewFallsBackToLocalManifestWhenNoReleaseConfigured(t *testing.T) {
	cfg := newTestConfig(t, "")

	seed := &RootManifest{
		Result: ResultPending,
		Steps: map[string]*StepManifest{
			"otter-test_ingest": NewStepManifest("ingest"),
		},
	}
	seed.Steps["otter-test_ingest"].Result = ResultSuccess

	localPath := storage.LocalManifestPath(cfg)
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0o755))
	data, err := json.MarshalIndent(seed, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(localPath, data, 0o644))

	m, err := New(context.Background(), "otter-test", []string{"ingest"}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.Contains(t, m.manifest.Steps, "otter-test_ingest")
	assert.Equal(t, ResultSuccess, m.manifest.Steps["otter-test_ingest"].Result)
}

func TestCompleteRetriesOnPreconditionFailedAndSucceeds(t *testing.T) {
	releaseDir := t.TempDir()
	cfg := newTestConfig(t, releaseDir)

	h, err := storage.NewHandle(storage.ManifestFilename, cfg, false)
	require.NoError(t, err)

	// Seed a remote manifest before New() runs, so New() picks up a real
	// revision to hold (rather than NoRevision, which would make the first
	// write below unconditional and never trip the precondition check).
	initial := &RootManifest{
		Result: ResultPending,
		Steps: map[string]*StepManifest{
			"otter-test_ingest": NewStepManifest("ingest"),
		},
	}
	initialData, err := json.MarshalIndent(initial, "", "  ")
	require.NoError(t, err)
	_, err = h.Write(context.Background(), initialData, storage.NoRevision)
	require.NoError(t, err)

	m, err := New(context.Background(), "otter-test", []string{"ingest"}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	staleRevision := m.revision
	require.False(t, staleRevision.IsZero())

	// Simulate another runner publishing an updated remote manifest after
	// this Manager loaded its copy, but before it saves: the revision this
	// Manager is holding is now stale.
	concurrent := m.createEmpty()
	concurrentData, err := json.MarshalIndent(concurrent, "", "  ")
	require.NoError(t, err)
	_, err = h.Write(context.Background(), concurrentData, staleRevision)
	require.NoError(t, err)

	step := NewStepManifest("ingest")
	step.Result = ResultSuccess

	// Complete's saveRemote must observe ErrPreconditionFailed on its first
	// attempt (m.revision still points at the now-stale copy), reload the
	// remote manifest, reapply this step's update, and retry until the
	// write succeeds against the current revision.
	result, err := m.Complete(context.Background(), "ingest", step)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	assert.NotEqual(t, staleRevision, m.revision)

	text, _, err := h.ReadText(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, `"ingest"`)
	assert.Contains(t, text, `"success"`)

	localPath := storage.LocalManifestPath(cfg)
	_, err = os.Stat(localPath)
	assert.NoError(t, err, "Complete should also persist the local cache copy")
}
