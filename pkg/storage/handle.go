package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/errs"
	otterlog "github.com/opentargets/otter/pkg/log"
)

// Handle is a high-level interface to a single storage resource (a file,
// folder or glob prefix). It resolves a logical location to an absolute URI
// once at construction, memoizes the result, and dispatches every operation
// to the backend selected by that URI's scheme.
//
// Resolution chain:
//  1. location already contains "://": used as-is.
//  2. !forceLocal && cfg.ReleaseURI set: prepend cfg.ReleaseURI.
//  3. otherwise: prepend cfg.WorkPath.
type Handle struct {
	location   string
	cfg        *config.Config
	forceLocal bool
	resolved   string
	backend    Storage
}

// NewHandle builds a Handle for location under cfg. Absolute local
// filesystem paths (a leading "/") are rejected: everything local must be
// relative to the work path.
func NewHandle(location string, cfg *config.Config, forceLocal bool) (*Handle, error) {
	if strings.HasPrefix(location, "/") {
		return nil, fmt.Errorf("absolute local paths are not allowed: %s: %w", location, errs.ErrFS)
	}

	resolved := resolve(location, cfg, forceLocal)
	return &Handle{
		location:   location,
		cfg:        cfg,
		forceLocal: forceLocal,
		resolved:   resolved,
		backend:    backendFor(resolved),
	}, nil
}

func resolve(location string, cfg *config.Config, forceLocal bool) string {
	if strings.Contains(location, "://") {
		return location
	}
	if !forceLocal && cfg != nil && cfg.ReleaseURI != "" {
		return joinLocation(cfg.ReleaseURI, location)
	}
	workPath := ""
	if cfg != nil {
		workPath = cfg.WorkPath
	}
	return joinLocation(workPath, location)
}

// joinLocation concatenates a base and a relative location with exactly one
// separating slash, without collapsing the "://" scheme marker the way a
// naive path.Join over a URI would.
func joinLocation(base, location string) string {
	if base == "" {
		return location
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(location, "/")
}

// Absolute returns the resolved absolute location.
func (h *Handle) Absolute() string { return h.resolved }

// IsAbsolute reports whether the original location was already absolute.
func (h *Handle) IsAbsolute() bool { return h.location == h.resolved }

// Storage returns the backend selected for this handle.
func (h *Handle) Storage() Storage { return h.backend }

func (h *Handle) Stat(ctx context.Context) (StatResult, error) {
	return h.backend.Stat(ctx, h.resolved)
}

func (h *Handle) Glob(ctx context.Context, pattern string) ([]string, error) {
	return h.backend.Glob(ctx, h.resolved, pattern)
}

func (h *Handle) Read(ctx context.Context) ([]byte, Revision, error) {
	return h.backend.Read(ctx, h.resolved)
}

func (h *Handle) ReadText(ctx context.Context) (string, Revision, error) {
	return ReadText(ctx, h.backend, h.resolved)
}

func (h *Handle) Write(ctx context.Context, data []byte, expectedRevision Revision) (Revision, error) {
	return h.backend.Write(ctx, h.resolved, data, expectedRevision)
}

func (h *Handle) WriteText(ctx context.Context, data string, expectedRevision Revision) (Revision, error) {
	return WriteText(ctx, h.backend, h.resolved, data, expectedRevision)
}

// DownloadToFile downloads this resource to a local destination path. It
// requires the resource to be a regular file.
func (h *Handle) DownloadToFile(ctx context.Context, dstPath string) (int64, error) {
	stat, err := h.Stat(ctx)
	if err != nil {
		return 0, err
	}
	if !stat.IsReg {
		return 0, fmt.Errorf("%s is not a regular file: %w", h.resolved, errs.ErrStorageError)
	}
	return h.backend.DownloadToFile(ctx, h.resolved, dstPath)
}

// CopyTo copies this resource to dest, following a four-step fallback
// strategy grounded directly in the original storage handle's copy_to:
//  1. same backend type: native CopyWithin.
//  2. destination is local filesystem: stream straight to the destination
//     path via DownloadToFile.
//  3. otherwise: DownloadToFile into a temp file, then Write its contents
//     to the destination.
//  4. if the source's DownloadToFile is unsupported (or no temp file can be
//     created): a chunked Open/read copy, then Write. A destination that
//     does not support Write fails in steps 3 and 4 alike.
//
// Each step moves on to the next only when the previous one returned
// errs.ErrUnsupported.
func (h *Handle) CopyTo(ctx context.Context, dest *Handle) (Revision, error) {
	stat, err := h.Stat(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Revision{}, fmt.Errorf("source %s does not exist: %w", h.resolved, errs.ErrNotFound)
		}
		return Revision{}, err
	}
	if !stat.IsReg {
		return Revision{}, fmt.Errorf("only regular files can be copied: %s: %w", h.resolved, errs.ErrStorageError)
	}

	if sameBackendType(h.backend, dest.backend) {
		rev, err := h.backend.CopyWithin(ctx, h.resolved, dest.resolved)
		if err == nil {
			return rev, nil
		}
		if !errors.Is(err, errs.ErrUnsupported) {
			return Revision{}, err
		}
		otterlog.Debug("copy_within not implemented, falling back to download/upload")
	}

	if _, ok := dest.backend.(FilesystemStorage); ok {
		if _, err := h.backend.DownloadToFile(ctx, h.resolved, dest.resolved); err == nil {
			return statAfterWrite(ctx, dest)
		} else if !errors.Is(err, errs.ErrUnsupported) {
			return Revision{}, err
		}
	}

	tmp, err := os.CreateTemp("", "otter-copy-*")
	if err == nil {
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)

		if _, err := h.backend.DownloadToFile(ctx, h.resolved, tmpPath); err == nil {
			data, err := os.ReadFile(tmpPath)
			if err != nil {
				return Revision{}, fmt.Errorf("reading temp copy of %s: %w", h.resolved, errs.ErrStorageError)
			}
			return dest.backend.Write(ctx, dest.resolved, data, NoRevision)
		} else if !errors.Is(err, errs.ErrUnsupported) {
			return Revision{}, err
		}
	}

	// last resort: chunked open/read/write.
	src, err := h.backend.Open(ctx, h.resolved, Revision{})
	if err != nil {
		return Revision{}, err
	}
	defer src.Close()

	data, err := readAll(src)
	if err != nil {
		return Revision{}, fmt.Errorf("reading %s: %w", h.resolved, errs.ErrStorageError)
	}
	return dest.backend.Write(ctx, dest.resolved, data, NoRevision)
}

func statAfterWrite(ctx context.Context, h *Handle) (Revision, error) {
	s, err := h.Stat(ctx)
	if err != nil {
		return Revision{}, err
	}
	return s.Revision, nil
}

func sameBackendType(a, b Storage) bool {
	return backendTypeName(a) == backendTypeName(b)
}

func backendTypeName(s Storage) string {
	return fmt.Sprintf("%T", s)
}

func readAll(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 8192)
	chunk := make([]byte, 8192)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
	}
}

// ManifestFilename is the well-known manifest object name resolved relative
// to either the release URI or the work path.
const ManifestFilename = "manifest.json"

// LocalManifestPath returns the local on-disk cache path for the manifest,
// independent of whether a release URI is configured.
func LocalManifestPath(cfg *config.Config) string {
	return path.Join(cfg.WorkPath, ManifestFilename)
}
