package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/task"
)

func newTestContext(t *testing.T) (*task.Context, *config.Config) {
	t.Helper()
	cfg := &config.Config{WorkPath: t.TempDir()}
	return task.NewContext(cfg, context.Background()), cfg
}

func TestHelloWorldRunSetsArtifact(t *testing.T) {
	ctx, _ := newTestContext(t)
	spec := task.Spec{Name: "hello_world greet", Fields: map[string]any{"who": "otter"}}
	tk, err := NewHelloWorld(spec, ctx)
	require.NoError(t, err)

	require.NoError(t, tk.Run(context.Background()))
	require.Len(t, tk.Manifest().Artifacts, 1)

	data, err := tk.Manifest().Artifacts[0].Destination.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"otter"`, string(data))
}

func TestHelloWorldDefaultsWho(t *testing.T) {
	ctx, _ := newTestContext(t)
	spec := task.Spec{Name: "hello_world greet", Fields: map[string]any{}}
	tk, err := NewHelloWorld(spec, ctx)
	require.NoError(t, err)
	hw := tk.(*HelloWorld)
	assert.Equal(t, "world", hw.who())
}

func TestFindLatestSelectsMostRecentFile(t *testing.T) {
	ctx, cfg := newTestContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorkPath, "data"), 0o755))
	older := filepath.Join(cfg.WorkPath, "data", "a.txt")
	newer := filepath.Join(cfg.WorkPath, "data", "b.txt")
	require.NoError(t, os.WriteFile(older, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))
	// force a distinguishable mtime ordering regardless of filesystem clock
	// resolution.
	now := time.Now()
	require.NoError(t, os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, now, now))

	spec := task.Spec{Name: "find_latest data", Fields: map[string]any{"source": "data/*.txt"}}
	tk, err := NewFindLatest(spec, ctx)
	require.NoError(t, err)

	require.NoError(t, tk.Run(context.Background()))
	assert.Equal(t, newer, ctx.Scratchpad["find_latest data"])
}

func TestFindLatestNoMatchesFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	spec := task.Spec{Name: "find_latest missing", Fields: map[string]any{"source": "nope/*.txt"}}
	tk, err := NewFindLatest(spec, ctx)
	require.NoError(t, err)
	assert.Error(t, tk.Run(context.Background()))
}

func TestExplodeGlobGeneratesChildSpecs(t *testing.T) {
	ctx, cfg := newTestContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorkPath, "items"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkPath, "items", "chair.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkPath, "items", "table.json"), []byte("{}"), 0o644))

	spec := task.Spec{
		Name: "explode_glob items",
		Fields: map[string]any{
			"glob": "items/*.json",
			"do": []any{
				map[string]any{
					"name":        "transform ${match_stem}",
					"source":      "${match_path}/${match_stem}.${match_ext}",
					"destination": "intermediate/${match_stem}.parquet",
				},
			},
		},
	}
	tk, err := NewExplodeGlob(spec, ctx)
	require.NoError(t, err)

	require.NoError(t, tk.Run(context.Background()))
	require.Len(t, ctx.Specs, 2)

	names := map[string]bool{}
	for _, s := range ctx.Specs {
		names[s.Name] = true
	}
	assert.True(t, names["transform chair"])
	assert.True(t, names["transform table"])
}
