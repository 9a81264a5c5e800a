package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentargets/otter/pkg/errs"
	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/storage"
	"github.com/opentargets/otter/pkg/task"
)

// DownloadTaskType is the registry key for Download.
const DownloadTaskType = "download"

// Download pulls a file already present in the release down to the local
// work_path, at the same relative path. It generates no artifact: the file
// it produces is local-only, never part of the release itself.
type Download struct {
	task.Base
}

// NewDownload is the registry.Constructor for Download.
func NewDownload(spec task.Spec, ctx *task.Context) (task.Task, error) {
	if _, err := stringField(spec.Fields, "source"); err != nil {
		return nil, err
	}
	return &Download{Base: task.NewBase(spec, ctx)}, nil
}

func (d *Download) source() string { s, _ := d.Spec().Fields["source"].(string); return s }

func (d *Download) Run(ctx context.Context) error {
	source := d.source()
	if strings.Contains(source, "://") || strings.HasPrefix(source, "/") {
		return fmt.Errorf("download source %q must be relative to the release root: %w", source, errs.ErrFS)
	}

	cfg := d.Context().Config
	src, err := storage.NewHandle(source, cfg, false)
	if err != nil {
		return err
	}
	dst, err := storage.NewHandle(source, cfg, true)
	if err != nil {
		return err
	}

	log.WithTask(d.Spec().Name).Info().Str("source", source).Str("destination", dst.Absolute()).Msg("downloading file")
	_, err = src.CopyTo(ctx, dst)
	return err
}

// Validate checks that the downloaded file exists locally and its size
// matches the release copy's, when both report a size.
func (d *Download) Validate(ctx context.Context) error {
	cfg := d.Context().Config
	source := d.source()

	src, err := storage.NewHandle(source, cfg, false)
	if err != nil {
		return err
	}
	dst, err := storage.NewHandle(source, cfg, true)
	if err != nil {
		return err
	}

	dstStat, err := dst.Stat(ctx)
	if err != nil {
		return fmt.Errorf("downloaded file %s missing: %w", dst.Absolute(), err)
	}
	if !dstStat.IsReg {
		return fmt.Errorf("downloaded %s is not a regular file: %w", dst.Absolute(), errs.ErrStorageError)
	}

	srcStat, err := src.Stat(ctx)
	if err != nil {
		return err
	}
	if srcStat.HasSize && dstStat.HasSize && srcStat.Size != dstStat.Size {
		return fmt.Errorf("size mismatch downloading %s: %d != %d: %w",
			source, srcStat.Size, dstStat.Size, errs.ErrStorageError)
	}
	return nil
}
