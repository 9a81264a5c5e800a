package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/scratchpad"
	"github.com/opentargets/otter/pkg/step"
	"github.com/opentargets/otter/pkg/storage"
	"github.com/opentargets/otter/pkg/task"
)

// ExplodeGlobTaskType is the registry key for ExplodeGlob.
const ExplodeGlobTaskType = "explode_glob"

// ExplodeGlob generates one copy of every spec in its "do" field for each
// file matching "glob", substituting match_prefix/match_path/match_stem/
// match_ext/uri/uuid into each copy from a per-iteration local scratchpad.
// Because the placeholders it fills are only known per-match, its spec sets
// scratchpad_ignore_missing so the registry's own global substitution pass
// leaves them untouched for this task to resolve itself.
type ExplodeGlob struct {
	task.Base
}

// NewExplodeGlob is the registry.Constructor for ExplodeGlob.
func NewExplodeGlob(spec task.Spec, ctx *task.Context) (task.Task, error) {
	if _, err := stringField(spec.Fields, "glob"); err != nil {
		return nil, err
	}
	if _, ok := spec.Fields["do"].([]any); !ok {
		return nil, fmt.Errorf("explode_glob field %q must be a list: %w", "do", errs.ErrTaskBuild)
	}
	return &ExplodeGlob{Base: task.NewBase(spec, ctx)}, nil
}

func (e *ExplodeGlob) Run(ctx context.Context) error {
	glob, _ := e.Spec().Fields["glob"].(string)
	do, _ := e.Spec().Fields["do"].([]any)

	cfg := e.Context().Config
	prefix, pattern := splitGlob(glob)

	h, err := storage.NewHandle(prefix, cfg, false)
	if err != nil {
		return err
	}
	files, err := h.Glob(ctx, pattern)
	if err != nil {
		return err
	}

	releaseURI, workPath := "", ""
	if cfg != nil {
		releaseURI, workPath = cfg.ReleaseURI, cfg.WorkPath
	}

	local := scratchpad.New()
	generated := 0
	for _, f := range files {
		uri := relativizeURI(f, releaseURI, workPath)
		relativePath := strings.TrimLeft(strings.TrimPrefix(uri, prefix), "/")
		matchPrefix := strings.TrimRight(strings.TrimSuffix(uri, relativePath), "/")
		matchPath, filename := rpartition(relativePath, "/")
		matchStem, matchExt := rpartition(filename, ".")
		if matchStem == "" {
			matchStem, matchExt = filename, ""
		}

		local["uri"] = uri
		local["match_prefix"] = matchPrefix
		local["match_path"] = matchPath
		local["match_stem"] = matchStem
		local["match_ext"] = matchExt
		local["uuid"] = uuid.NewString()

		for _, raw := range do {
			doMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			substituted, err := local.Substitute(doMap, true)
			if err != nil {
				return err
			}
			fields, ok := substituted.(map[string]any)
			if !ok {
				continue
			}
			child, err := step.DecodeSpec(fields)
			if err != nil {
				return err
			}
			e.Context().Specs = append(e.Context().Specs, child)
			generated++
		}
	}

	log.WithTask(e.Spec().Name).Info().Int("count", generated).Msg("exploded into new specs")
	return nil
}

// relativizeURI strips releaseURI or workPath (whichever f falls under)
// from f, returning f unchanged if neither applies.
func relativizeURI(f, releaseURI, workPath string) string {
	switch {
	case releaseURI != "" && strings.HasPrefix(f, releaseURI):
		return strings.TrimLeft(strings.TrimPrefix(f, releaseURI), "/")
	case workPath != "" && strings.HasPrefix(f, workPath):
		return strings.TrimLeft(strings.TrimPrefix(f, workPath), "/")
	default:
		return f
	}
}
