package tasks

import (
	"context"
	"fmt"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/storage"
	"github.com/opentargets/otter/pkg/task"
)

// FindLatestTaskType is the registry key for FindLatest.
const FindLatestTaskType = "find_latest"

// FindLatest finds the last-modified file among those matching a glob
// prefix, publishing its absolute location to the scratchpad under
// scratchpad_key (defaulting to the spec's own name).
type FindLatest struct {
	task.Base
}

// NewFindLatest is the registry.Constructor for FindLatest.
func NewFindLatest(spec task.Spec, ctx *task.Context) (task.Task, error) {
	if _, err := stringField(spec.Fields, "source"); err != nil {
		return nil, err
	}
	return &FindLatest{Base: task.NewBase(spec, ctx)}, nil
}

func (f *FindLatest) source() string { s, _ := f.Spec().Fields["source"].(string); return s }

func (f *FindLatest) scratchpadKey() string {
	return optionalStringField(f.Spec().Fields, "scratchpad_key", f.Spec().Name)
}

func (f *FindLatest) Run(ctx context.Context) error {
	cfg := f.Context().Config
	prefix, pattern := splitGlob(f.source())

	h, err := storage.NewHandle(prefix, cfg, false)
	if err != nil {
		return err
	}

	paths, err := h.Glob(ctx, pattern)
	if err != nil {
		return err
	}

	// Glob returns absolute locations, which NewHandle rejects for local
	// paths, so candidates are stat'ed through the same backend directly.
	var latest string
	var latestMtime float64
	haveLatest := false
	for _, p := range paths {
		stat, err := h.Storage().Stat(ctx, p)
		if err != nil {
			return err
		}
		if !stat.HasMtime {
			continue
		}
		if !haveLatest || stat.Mtime > latestMtime {
			latest, latestMtime, haveLatest = p, stat.Mtime, true
		}
	}

	if !haveLatest {
		return fmt.Errorf("no files found matching %s: %w", f.source(), errs.ErrNotFound)
	}

	log.WithTask(f.Spec().Name).Info().Str("latest", latest).Msg("found latest file")
	f.Context().Scratchpad[f.scratchpadKey()] = latest
	return nil
}
