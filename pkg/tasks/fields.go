// Package tasks provides the catalog of built-in task implementations:
// hello_world, copy, download, find_latest, and explode_glob. Each embeds
// task.Base and is registered under its task-type token via
// registry.Register in cmd/otter.
package tasks

import (
	"fmt"

	"github.com/opentargets/otter/pkg/errs"
)

// stringField reads a required string field from a task's Fields map.
func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q: %w", key, errs.ErrTaskBuild)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string: %w", key, errs.ErrTaskBuild)
	}
	return s, nil
}

// optionalStringField reads an optional string field, returning def if
// absent or not a string.
func optionalStringField(fields map[string]any, key, def string) string {
	v, ok := fields[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}
