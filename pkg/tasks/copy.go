package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/storage"
	"github.com/opentargets/otter/pkg/task"
)

// CopyTaskType is the registry key for Copy.
const CopyTaskType = "copy"

// Copy copies a file from an external source into the release. source must
// be absolute (it names something outside the release); destination is
// relative to release_uri, or to work_path when no release is configured.
type Copy struct {
	task.Base
}

// NewCopy is the registry.Constructor for Copy.
func NewCopy(spec task.Spec, ctx *task.Context) (task.Task, error) {
	if _, err := stringField(spec.Fields, "source"); err != nil {
		return nil, err
	}
	if _, err := stringField(spec.Fields, "destination"); err != nil {
		return nil, err
	}
	return &Copy{Base: task.NewBase(spec, ctx)}, nil
}

func (c *Copy) source() string      { s, _ := c.Spec().Fields["source"].(string); return s }
func (c *Copy) destination() string { s, _ := c.Spec().Fields["destination"].(string); return s }

func (c *Copy) Run(ctx context.Context) error {
	source, destination := c.source(), c.destination()
	if !strings.Contains(source, "://") {
		return fmt.Errorf("copy source %q must be absolute: %w", source, errs.ErrFS)
	}

	cfg := c.Context().Config
	src, err := storage.NewHandle(source, cfg, false)
	if err != nil {
		return err
	}
	dst, err := storage.NewHandle(destination, cfg, false)
	if err != nil {
		return err
	}

	log.WithTask(c.Spec().Name).Info().Str("source", source).Str("destination", destination).Msg("copying file")
	if _, err := src.CopyTo(ctx, dst); err != nil {
		return err
	}

	c.Manifest().Artifacts = []manifest.Artifact{
		{Source: manifest.SingleArtifact(src.Absolute()), Destination: manifest.SingleArtifact(dst.Absolute())},
	}
	return nil
}

// Validate checks that the copied file exists and its size matches the
// source's, when both backends report a size.
func (c *Copy) Validate(ctx context.Context) error {
	cfg := c.Context().Config
	src, err := storage.NewHandle(c.source(), cfg, false)
	if err != nil {
		return err
	}
	dst, err := storage.NewHandle(c.destination(), cfg, false)
	if err != nil {
		return err
	}

	dstStat, err := dst.Stat(ctx)
	if err != nil {
		return fmt.Errorf("destination %s missing after copy: %w", dst.Absolute(), err)
	}
	if !dstStat.IsReg {
		return fmt.Errorf("destination %s is not a regular file: %w", dst.Absolute(), errs.ErrStorageError)
	}

	srcStat, err := src.Stat(ctx)
	if err != nil {
		return err
	}
	if srcStat.HasSize && dstStat.HasSize && srcStat.Size != dstStat.Size {
		return fmt.Errorf("size mismatch copying %s to %s: %d != %d: %w",
			src.Absolute(), dst.Absolute(), srcStat.Size, dstStat.Size, errs.ErrStorageError)
	}
	return nil
}
