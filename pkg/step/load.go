package step

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/task"
)

// specFields are the fields common to every Spec in a step YAML file;
// everything else decodes into Fields, the task-type-specific payload.
var specFields = map[string]bool{
	"name": true, "requires": true, "scratchpad_ignore_missing": true,
}

// LoadSpecs reads a step YAML file: a plain list of task specs, each with
// the common fields name/requires/scratchpad_ignore_missing plus
// task-type-specific fields that pass through untouched into Spec.Fields.
func LoadSpecs(path string) ([]task.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading step %s: %w", path, errs.ErrNotFound)
	}

	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing step %s: %w", path, errs.ErrManifest)
	}

	specs := make([]task.Spec, 0, len(raw))
	seen := map[string]bool{}
	for _, entry := range raw {
		spec, err := decodeSpec(entry)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", path, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate spec %q in %s: %w", spec.Name, path, errs.ErrDuplicateTask)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// DecodeSpec splits a raw map (already scratchpad-substituted or not) into
// a task.Spec. Exported so task types that emit child specs from their own
// inline definitions (explode_glob's "do" field) can reuse the same
// name/requires/scratchpad_ignore_missing split as the step YAML loader.
func DecodeSpec(entry map[string]any) (task.Spec, error) {
	return decodeSpec(entry)
}

// decodeSpec splits a raw YAML map into a task.Spec: known fields are
// pulled out explicitly, everything else becomes Fields. Used both for
// top-level step specs and for the child spec definitions a task like
// explode_glob carries in its own "do" field.
func decodeSpec(entry map[string]any) (task.Spec, error) {
	name, _ := entry["name"].(string)
	if name == "" {
		return task.Spec{}, fmt.Errorf("spec missing name: %w", errs.ErrManifest)
	}

	spec := task.Spec{Name: name, Fields: map[string]any{}}

	if reqs, ok := entry["requires"].([]any); ok {
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				spec.Requires = append(spec.Requires, s)
			}
		}
	}
	if ignore, ok := entry["scratchpad_ignore_missing"].(bool); ok {
		spec.ScratchpadIgnoreMissing = ignore
	}

	for k, v := range entry {
		if !specFields[k] {
			spec.Fields[k] = v
		}
	}

	return spec, nil
}
