package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/opentargets/otter/pkg/errs"
)

// NoopStorage is the sentinel backend selected for unknown URI schemes;
// every operation fails with errs.ErrUnsupported.
type NoopStorage struct{}

var _ Storage = NoopStorage{}

func (NoopStorage) Name() string { return "Dummy storage" }

func (NoopStorage) Stat(context.Context, string) (StatResult, error) {
	return StatResult{}, fmt.Errorf("stat: %w", errs.ErrUnsupported)
}

func (NoopStorage) Glob(context.Context, string, string) ([]string, error) {
	return nil, fmt.Errorf("glob: %w", errs.ErrUnsupported)
}

func (NoopStorage) Read(context.Context, string) ([]byte, Revision, error) {
	return nil, Revision{}, fmt.Errorf("read: %w", errs.ErrUnsupported)
}

func (NoopStorage) Write(context.Context, string, []byte, Revision) (Revision, error) {
	return Revision{}, fmt.Errorf("write: %w", errs.ErrUnsupported)
}

func (NoopStorage) CopyWithin(context.Context, string, string) (Revision, error) {
	return Revision{}, fmt.Errorf("copy_within: %w", errs.ErrUnsupported)
}

func (NoopStorage) Open(context.Context, string, Revision) (io.ReadCloser, error) {
	return nil, fmt.Errorf("open: %w", errs.ErrUnsupported)
}

func (NoopStorage) DownloadToFile(context.Context, string, string) (int64, error) {
	return 0, fmt.Errorf("download_to_file: %w", errs.ErrUnsupported)
}
