package step

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentargets/otter/pkg/errs"
)

func writeStepFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "step.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSpecsSplitsKnownAndFreeformFields(t *testing.T) {
	path := writeStepFile(t, `
- name: copy ingest data
  requires: ["hello_world greet"]
  scratchpad_ignore_missing: true
  source: raw/data.csv
  destination: staging/data.csv
`)
	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "copy ingest data", spec.Name)
	assert.Equal(t, []string{"hello_world greet"}, spec.Requires)
	assert.True(t, spec.ScratchpadIgnoreMissing)
	assert.Equal(t, "raw/data.csv", spec.Fields["source"])
	assert.Equal(t, "staging/data.csv", spec.Fields["destination"])
	assert.NotContains(t, spec.Fields, "name")
	assert.NotContains(t, spec.Fields, "requires")
}

func TestLoadSpecsMissingNameFails(t *testing.T) {
	path := writeStepFile(t, `
- source: raw/data.csv
`)
	_, err := LoadSpecs(path)
	assert.ErrorIs(t, err, errs.ErrManifest)
}

func TestLoadSpecsDuplicateNameFails(t *testing.T) {
	path := writeStepFile(t, `
- name: copy x
- name: copy x
`)
	_, err := LoadSpecs(path)
	assert.ErrorIs(t, err, errs.ErrDuplicateTask)
}

func TestLoadSpecsMissingFileFails(t *testing.T) {
	_, err := LoadSpecs(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDecodeSpecReusedForInlineChildSpecs(t *testing.T) {
	spec, err := DecodeSpec(map[string]any{
		"name":        "transform chair",
		"source":      "items/chair.json",
		"destination": "intermediate/chair.parquet",
	})
	require.NoError(t, err)
	assert.Equal(t, "transform chair", spec.Name)
	assert.Equal(t, "items/chair.json", spec.Fields["source"])
}
