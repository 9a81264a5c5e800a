package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otterlog "github.com/opentargets/otter/pkg/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "work_path: /tmp/work\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, otterlog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "otter", cfg.RunnerName)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, "work_path: /tmp/work\npool_size: 8\nlog_level: debug\nrunner_name: custom\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, otterlog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "custom", cfg.RunnerName)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesTakePrecedence(t *testing.T) {
	path := writeConfig(t, "work_path: /tmp/work\nstep: ingest\n")
	t.Setenv("OTTER_WORK_PATH", "/override")
	t.Setenv("OTTER_STEP", "publish")
	t.Setenv("OTTER_RELEASE_URI", "gs://bucket/release")
	t.Setenv("OTTER_RUNNER_NAME", "env-runner")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/override", cfg.WorkPath)
	assert.Equal(t, "publish", cfg.Step)
	assert.Equal(t, "gs://bucket/release", cfg.ReleaseURI)
	assert.Equal(t, "env-runner", cfg.RunnerName)
}
