// Package storage implements the revision-aware backend contract used by
// every task: stat/glob/read/write/copy under optimistic concurrency, plus
// the StorageHandle that resolves a logical location to an absolute URI and
// dispatches to the right backend.
package storage

import (
	"context"
	"io"
)

// Revision is an opaque, equality-only-comparable version token for a
// stored resource: a float mtime on the local filesystem, a generation
// number on an object store, or a Last-Modified-style string over HTTP. It
// is never interpreted, only compared.
type Revision struct {
	// kind discriminates the underlying representation so two revisions
	// from different backend types never compare equal by accident.
	kind string
	num  float64
	str  string
}

// NoRevision is the zero value, meaning "no revision known/expected".
var NoRevision = Revision{}

// IsZero reports whether r carries no revision information.
func (r Revision) IsZero() bool { return r == NoRevision }

// NumericRevision builds a Revision around a float (mtime or numeric
// generation).
func NumericRevision(kind string, v float64) Revision {
	return Revision{kind: kind, num: v}
}

// StringRevision builds a Revision around an opaque string token (e.g. an
// HTTP Last-Modified header).
func StringRevision(kind string, v string) Revision {
	return Revision{kind: kind, str: v}
}

func (r Revision) String() string {
	if r.str != "" {
		return r.str
	}
	return r.kind
}

// StatResult describes a stored resource's metadata. At most one of IsDir,
// IsReg is true.
type StatResult struct {
	IsDir    bool
	IsReg    bool
	Size     int64
	HasSize  bool
	Revision Revision
	Mtime    float64
	HasMtime bool
}

// Storage is the polymorphic backend contract. Every method is safe to call
// concurrently; implementations that need per-call isolation (e.g. the
// filesystem backend's advisory lock) handle it internally.
type Storage interface {
	// Name identifies the backend for logs and metrics.
	Name() string

	// Stat returns metadata for location. Returns an error wrapping
	// errs.ErrNotFound when the resource does not exist.
	Stat(ctx context.Context, location string) (StatResult, error)

	// Glob lists resources under location matching a shell-style pattern,
	// returning absolute locations. Returns an empty slice when nothing
	// matches. Backends without listing support return
	// errs.ErrUnsupported.
	Glob(ctx context.Context, location, pattern string) ([]string, error)

	// Read implements read-stable-revision: it re-checks the revision
	// after reading the bytes and retries the whole read if it changed
	// concurrently, so the returned pair is always internally consistent.
	Read(ctx context.Context, location string) ([]byte, Revision, error)

	// Write performs a conditional write when expectedRevision is
	// non-zero: the precondition check and the write happen atomically
	// from the caller's perspective. Returns errs.ErrPreconditionFailed on
	// a revision mismatch.
	Write(ctx context.Context, location string, data []byte, expectedRevision Revision) (Revision, error)

	// CopyWithin performs an efficient same-backend copy. Backends without
	// a native copy return errs.ErrUnsupported so the caller can fall back.
	CopyWithin(ctx context.Context, src, dst string) (Revision, error)

	// Open returns a reader for location, optionally pinned to a specific
	// revision. Used by the handle's chunked copy-to fallback.
	Open(ctx context.Context, location string, revision Revision) (io.ReadCloser, error)

	// DownloadToFile streams location directly to a local destination
	// path, returning the number of bytes written. Backends without a
	// streaming path return errs.ErrUnsupported so Handle.CopyTo falls
	// back to a chunked Open/read copy.
	DownloadToFile(ctx context.Context, location, dstPath string) (int64, error)
}

// ReadText is a convenience wrapper decoding Read's result as UTF-8 text.
func ReadText(ctx context.Context, s Storage, location string) (string, Revision, error) {
	data, rev, err := s.Read(ctx, location)
	if err != nil {
		return "", Revision{}, err
	}
	return string(data), rev, nil
}

// WriteText is a convenience wrapper around Write for string payloads.
func WriteText(ctx context.Context, s Storage, location, data string, expectedRevision Revision) (Revision, error) {
	return s.Write(ctx, location, []byte(data), expectedRevision)
}
