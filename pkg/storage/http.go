package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/opentargets/otter/pkg/errs"
)

// httpRequestTimeout bounds every HTTP backend round trip.
const httpRequestTimeout = 10 * time.Second

// HTTPStorage implements Storage as a read-only backend over plain
// http(s):// URLs. write, glob and copy_within all fail Unsupported, as in
// the original implementation.
type HTTPStorage struct {
	client *http.Client
}

var _ Storage = &HTTPStorage{}

// NewHTTPStorage builds an HTTP backend with a shared client.
func NewHTTPStorage() *HTTPStorage {
	return &HTTPStorage{client: &http.Client{Timeout: httpRequestTimeout}}
}

func (h *HTTPStorage) Name() string { return "HTTP Storage" }

func (h *HTTPStorage) Stat(ctx context.Context, location string) (StatResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return StatResult{}, fmt.Errorf("building HEAD %s: %w", location, errs.ErrStorageError)
	}
	// prevent compression so Content-Length reflects the real size.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := h.client.Do(req)
	if err != nil {
		return StatResult{}, fmt.Errorf("HEAD %s: %w", location, errs.ErrStorageError)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return StatResult{}, fmt.Errorf("%s: %w", location, errs.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return StatResult{}, fmt.Errorf("HEAD %s: status %d: %w", location, resp.StatusCode, errs.ErrStorageError)
	}

	result := StatResult{IsReg: true}
	if resp.ContentLength >= 0 {
		result.Size = resp.ContentLength
		result.HasSize = true
	}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		result.Revision = StringRevision("http", lastModified)
		if t, err := http.ParseTime(lastModified); err == nil {
			result.Mtime = float64(t.Unix())
			result.HasMtime = true
		}
	}
	return result, nil
}

func (h *HTTPStorage) Glob(context.Context, string, string) ([]string, error) {
	return nil, fmt.Errorf("glob: %w", errs.ErrUnsupported)
}

func (h *HTTPStorage) Read(ctx context.Context, location string) ([]byte, Revision, error) {
	stat, err := h.Stat(ctx, location)
	if err != nil {
		return nil, Revision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("building GET %s: %w", location, errs.ErrStorageError)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("GET %s: %w", location, errs.ErrStorageError)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, Revision{}, fmt.Errorf("GET %s: status %d: %w", location, resp.StatusCode, errs.ErrStorageError)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("reading body of %s: %w", location, errs.ErrStorageError)
	}
	after, err := h.Stat(ctx, location)
	if err != nil {
		return nil, Revision{}, err
	}
	if after.Revision != stat.Revision {
		// the resource changed while it was being read: start over.
		return h.Read(ctx, location)
	}
	return data, stat.Revision, nil
}

func (h *HTTPStorage) Write(context.Context, string, []byte, Revision) (Revision, error) {
	return Revision{}, fmt.Errorf("write: %w", errs.ErrUnsupported)
}

func (h *HTTPStorage) CopyWithin(context.Context, string, string) (Revision, error) {
	return Revision{}, fmt.Errorf("copy_within: %w", errs.ErrUnsupported)
}

func (h *HTTPStorage) Open(ctx context.Context, location string, _ Revision) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("building GET %s: %w", location, errs.ErrStorageError)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", location, errs.ErrStorageError)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d: %w", location, resp.StatusCode, errs.ErrStorageError)
	}
	return resp.Body, nil
}

func (h *HTTPStorage) DownloadToFile(ctx context.Context, location, dstPath string) (int64, error) {
	data, _, err := h.Read(ctx, location)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dstPath, errs.ErrStorageError)
	}
	return int64(len(data)), nil
}
