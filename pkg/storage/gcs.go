package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/opentargets/otter/pkg/errs"
)

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9\-_.]{2,221}[a-z0-9]$`)

var (
	gcsClientOnce sync.Once
	gcsClient     *gcs.Client
	gcsClientErr  error
)

// GoogleStorage implements Storage against Google Cloud Storage. The client
// is created once per process and shared across handles, mirroring the
// original implementation's module-level cached client.
type GoogleStorage struct{}

var _ Storage = GoogleStorage{}

func sharedGCSClient(ctx context.Context) (*gcs.Client, error) {
	gcsClientOnce.Do(func() {
		gcsClient, gcsClientErr = gcs.NewClient(ctx)
	})
	return gcsClient, gcsClientErr
}

func (GoogleStorage) Name() string { return "Google Cloud Storage" }

func parseGCSURI(location string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(location, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if !bucketNameRe.MatchString(bucket) {
		return "", "", fmt.Errorf("invalid bucket name %q: %w", bucket, errs.ErrStorageError)
	}
	if len(parts) > 1 {
		object = parts[1]
	}
	return bucket, object, nil
}

func (g GoogleStorage) Stat(ctx context.Context, location string) (StatResult, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return StatResult{}, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	bucket, object, err := parseGCSURI(location)
	if err != nil {
		return StatResult{}, err
	}

	attrs, err := client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return StatResult{
			IsReg:    true,
			Size:     attrs.Size,
			HasSize:  true,
			Revision: NumericRevision("gcs", float64(attrs.Generation)),
			Mtime:    float64(attrs.Updated.Unix()),
			HasMtime: !attrs.Updated.IsZero(),
		}, nil
	}
	if err != gcs.ErrObjectNotExist {
		return StatResult{}, fmt.Errorf("stat %s: %w", location, errs.ErrStorageError)
	}

	// could be a prefix.
	it := client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: object, Delimiter: ""})
	if _, err := it.Next(); err == nil {
		return StatResult{IsDir: true}, nil
	} else if err != iterator.Done {
		return StatResult{}, fmt.Errorf("listing %s: %w", location, errs.ErrStorageError)
	}

	return StatResult{}, fmt.Errorf("%s: %w", location, errs.ErrNotFound)
}

func (g GoogleStorage) Glob(ctx context.Context, location, pattern string) ([]string, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	bucket, prefix, err := parseGCSURI(location)
	if err != nil {
		return nil, err
	}

	var out []string
	it := client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", location, errs.ErrStorageError)
		}
		matched, _ := matchGlobSuffix(pattern, attrs.Name)
		if matched {
			out = append(out, fmt.Sprintf("gs://%s/%s", bucket, attrs.Name))
		}
	}
	return out, nil
}

func (g GoogleStorage) Read(ctx context.Context, location string) ([]byte, Revision, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	bucket, object, err := parseGCSURI(location)
	if err != nil {
		return nil, Revision{}, err
	}

	stat, err := g.Stat(ctx, location)
	if err != nil {
		return nil, Revision{}, err
	}

	r, err := client.Bucket(bucket).Object(object).Generation(int64(stat.Revision.num)).NewReader(ctx)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read %s: %w", location, errs.ErrStorageError)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read %s: %w", location, errs.ErrStorageError)
	}
	return data, stat.Revision, nil
}

func (g GoogleStorage) Write(ctx context.Context, location string, data []byte, expectedRevision Revision) (Revision, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return Revision{}, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	bucket, object, err := parseGCSURI(location)
	if err != nil {
		return Revision{}, err
	}

	obj := client.Bucket(bucket).Object(object)
	if !expectedRevision.IsZero() {
		obj = obj.If(gcs.Conditions{GenerationMatch: int64(expectedRevision.num)})
	} else {
		obj = obj.If(gcs.Conditions{DoesNotExist: true})
		// a caller with no expectation at all (first write, unconditional
		// overwrite) still wants this to succeed even if the object
		// exists; only the explicit expectedRevision case is conditional.
		if expectedRevision == NoRevision {
			obj = client.Bucket(bucket).Object(object)
		}
	}

	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Revision{}, fmt.Errorf("write %s: %w", location, errs.ErrStorageError)
	}
	if err := w.Close(); err != nil {
		if isGCSPreconditionFailed(err) {
			return Revision{}, fmt.Errorf("revision mismatch on %s: %w", location, errs.ErrPreconditionFailed)
		}
		return Revision{}, fmt.Errorf("write %s: %w", location, errs.ErrStorageError)
	}

	return NumericRevision("gcs", float64(w.Attrs().Generation)), nil
}

func isGCSPreconditionFailed(err error) bool {
	return strings.Contains(err.Error(), "412") || strings.Contains(err.Error(), "precondition")
}

func (g GoogleStorage) CopyWithin(ctx context.Context, src, dst string) (Revision, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return Revision{}, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	srcBucket, srcObject, err := parseGCSURI(src)
	if err != nil {
		return Revision{}, err
	}
	dstBucket, dstObject, err := parseGCSURI(dst)
	if err != nil {
		return Revision{}, err
	}

	srcHandle := client.Bucket(srcBucket).Object(srcObject)
	dstHandle := client.Bucket(dstBucket).Object(dstObject)
	attrs, err := dstHandle.CopierFrom(srcHandle).Run(ctx)
	if err != nil {
		return Revision{}, fmt.Errorf("copy %s to %s: %w", src, dst, errs.ErrStorageError)
	}
	return NumericRevision("gcs", float64(attrs.Generation)), nil
}

func (g GoogleStorage) Open(ctx context.Context, location string, revision Revision) (io.ReadCloser, error) {
	client, err := sharedGCSClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", errs.ErrStorageError)
	}
	bucket, object, err := parseGCSURI(location)
	if err != nil {
		return nil, err
	}
	obj := client.Bucket(bucket).Object(object)
	if !revision.IsZero() {
		obj = obj.Generation(int64(revision.num))
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, errs.ErrStorageError)
	}
	return r, nil
}

func (g GoogleStorage) DownloadToFile(ctx context.Context, location, dstPath string) (int64, error) {
	data, _, err := g.Read(ctx, location)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dstPath, errs.ErrStorageError)
	}
	return int64(len(data)), nil
}

// matchGlobSuffix matches a shell-style pattern against the basename-like
// remainder of an object key, using doublestar's match semantics.
func matchGlobSuffix(pattern, name string) (bool, error) {
	return globMatch(pattern, name)
}
