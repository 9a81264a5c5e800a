package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"

	"github.com/opentargets/otter/pkg/config"
	"github.com/opentargets/otter/pkg/errs"
	otterlog "github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/metrics"
	"github.com/opentargets/otter/pkg/storage"
)

const (
	manifestBucket = "manifest_snapshots"
	snapshotKey    = "latest"

	// retryBaseDelay mirrors the original implementation's fixed
	// RETRY_BASE_DELAY / UPLOAD_COOLDOWN, used here as the floor for
	// jittered exponential backoff on PreconditionFailed.
	retryBaseDelay = 500 * time.Millisecond
)

// Manager wraps a RootManifest and persists it under optimistic
// concurrency: a remote release (if configured), a local JSON cache
// protected by an advisory lock, and an auxiliary bbolt snapshot used as a
// warm-start source across coordinator restarts when even the local file is
// missing or unreadable.
type Manager struct {
	runnerName string
	steps      []string
	cfg        *config.Config

	manifest *RootManifest
	revision storage.Revision

	localCache *bolt.DB
	log        otterlog.Level
}

// New loads (or creates) the manifest for a run: remote, then local file,
// then the bbolt warm-start cache, then an empty manifest seeded with
// placeholder StepManifests for every configured step.
func New(ctx context.Context, runnerName string, steps []string, cfg *config.Config) (*Manager, error) {
	m := &Manager{runnerName: runnerName, steps: steps, cfg: cfg}

	if db, err := openLocalCache(cfg); err == nil {
		m.localCache = db
	}

	if root, rev, err := m.loadRemote(ctx); err == nil {
		m.manifest, m.revision = root, rev
		return m, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	if root, err := m.loadLocal(); err == nil {
		m.manifest = root
		return m, nil
	}

	if root, err := m.loadCache(); err == nil {
		m.manifest = root
		return m, nil
	}

	m.manifest = m.createEmpty()
	return m, nil
}

func openLocalCache(cfg *config.Config) (*bolt.DB, error) {
	path := filepath.Join(cfg.WorkPath, "manifest_cache.db")
	if err := os.MkdirAll(cfg.WorkPath, 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(manifestBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (m *Manager) stepKey(stepName string) string {
	return fmt.Sprintf("%s_%s", m.runnerName, stepName)
}

func (m *Manager) createEmpty() *RootManifest {
	root := &RootManifest{
		Result:     ResultPending,
		StartedAt:  time.Now().UTC(),
		ModifiedAt: time.Now().UTC(),
		Steps:      map[string]*StepManifest{},
	}
	for _, step := range m.steps {
		root.Steps[m.stepKey(step)] = NewStepManifest(step)
	}
	return root
}

func (m *Manager) loadRemote(ctx context.Context) (*RootManifest, storage.Revision, error) {
	if m.cfg.ReleaseURI == "" {
		return nil, storage.Revision{}, fmt.Errorf("no release uri: %w", errs.ErrNotFound)
	}
	h, err := storage.NewHandle(storage.ManifestFilename, m.cfg, false)
	if err != nil {
		return nil, storage.Revision{}, err
	}
	text, rev, err := h.ReadText(ctx)
	if err != nil {
		return nil, storage.Revision{}, err
	}
	root, err := parseManifest(text)
	if err != nil {
		return nil, storage.Revision{}, err
	}
	otterlog.Info(fmt.Sprintf("remote manifest read from %s (revision %s)", h.Absolute(), rev))
	return root, rev, nil
}

func (m *Manager) loadLocal() (*RootManifest, error) {
	path := storage.LocalManifestPath(m.cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, errs.ErrNotFound)
	}
	root, err := parseManifest(string(data))
	if err != nil {
		return nil, err
	}
	otterlog.Info(fmt.Sprintf("local manifest read from %s", path))
	return root, nil
}

func (m *Manager) loadCache() (*RootManifest, error) {
	if m.localCache == nil {
		return nil, fmt.Errorf("no local cache: %w", errs.ErrNotFound)
	}
	var data []byte
	err := m.localCache.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(manifestBucket))
		v := b.Get([]byte(snapshotKey))
		if v == nil {
			return fmt.Errorf("no cached snapshot: %w", errs.ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	root, err := parseManifest(string(data))
	if err != nil {
		return nil, err
	}
	otterlog.Info("manifest warm-started from local snapshot cache")
	return root, nil
}

func parseManifest(text string) (*RootManifest, error) {
	var root RootManifest
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", errs.ErrManifest)
	}
	return &root, nil
}

func (m *Manager) serialize() ([]byte, error) {
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing manifest: %w", errs.ErrManifest)
	}
	return data, nil
}

// upsertStep merges stepManifest into the root under its namespaced key,
// refreshes ModifiedAt, and recomputes the root result.
func (m *Manager) upsertStep(stepName string, stepManifest *StepManifest) {
	m.manifest.Steps[m.stepKey(stepName)] = stepManifest
	m.manifest.ModifiedAt = time.Now().UTC()
	m.manifest.Recalculate()
}

func (m *Manager) saveLocal() error {
	path := storage.LocalManifestPath(m.cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("preparing %s: %w", path, errs.ErrFS)
	}

	data, err := m.serialize()
	if err != nil {
		return err
	}

	lockPath := path + ".lock"
	lock := flock.New(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("locking %s: %w", lockPath, errs.ErrManifest)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, errs.ErrManifest)
	}
	otterlog.Debug(fmt.Sprintf("local manifest saved to %s", path))

	m.saveCache(data)
	return nil
}

func (m *Manager) saveCache(data []byte) {
	if m.localCache == nil {
		return
	}
	_ = m.localCache.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(manifestBucket))
		return b.Put([]byte(snapshotKey), data)
	})
}

// saveRemote performs the read-modify-write loop from the original
// ManifestManager: on PreconditionFailed, reload the remote manifest,
// re-apply this step's update, and retry with jittered exponential backoff.
// There is no retry cap; progress requires some publisher to eventually win.
func (m *Manager) saveRemote(ctx context.Context, stepName string, stepManifest *StepManifest) error {
	if m.cfg.ReleaseURI == "" {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ManifestSaveDuration)

	h, err := storage.NewHandle(storage.ManifestFilename, m.cfg, false)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	// twice the base with ±50% randomization keeps every wait at or above
	// retryBaseDelay.
	policy.InitialInterval = 2 * retryBaseDelay
	policy.MaxElapsedTime = 0 // no cap: cooperative liveness.
	policy.RandomizationFactor = 0.5

	return backoff.Retry(func() error {
		data, err := m.serialize()
		if err != nil {
			return backoff.Permanent(err)
		}

		otterlog.Debug(fmt.Sprintf("uploading manifest to %s (revision %s)", h.Absolute(), m.revision))
		rev, err := h.Write(ctx, data, m.revision)
		if err == nil {
			m.revision = rev
			otterlog.Info(fmt.Sprintf("remote manifest saved to %s", h.Absolute()))
			return nil
		}

		if errors.Is(err, errs.ErrPreconditionFailed) {
			metrics.ManifestSaveRetries.Inc()
			otterlog.Debug("manifest revision changed remotely, reloading and retrying")
			if root, rev, rerr := m.loadRemote(ctx); rerr == nil {
				m.manifest, m.revision = root, rev
				m.upsertStep(stepName, stepManifest)
				_ = m.saveLocal()
			}
			return err // retriable
		}

		return backoff.Permanent(fmt.Errorf("saving remote manifest: %w", errs.ErrManifest))
	}, policy)
}

// Complete updates the manifest with the finished step, persists it locally
// and (if configured) remotely, and returns the step's rolled-up result.
func (m *Manager) Complete(ctx context.Context, stepName string, stepManifest *StepManifest) (Result, error) {
	m.upsertStep(stepName, stepManifest)

	if stepManifest.Result != ResultSuccess {
		otterlog.Warn(fmt.Sprintf("step %s did not complete successfully", stepName))
	} else {
		otterlog.Info(fmt.Sprintf("step %s completed successfully", stepName))
		if m.manifest.Result == ResultSuccess {
			otterlog.Info("all steps are now complete")
		}
	}

	if err := m.saveLocal(); err != nil {
		return stepManifest.Result, err
	}
	if err := m.saveRemote(ctx, stepName, stepManifest); err != nil {
		return stepManifest.Result, err
	}

	return stepManifest.Result, nil
}

// Close releases the local warm-start cache handle.
func (m *Manager) Close() error {
	if m.localCache != nil {
		return m.localCache.Close()
	}
	return nil
}

// jitter returns a random duration in [0, d) — kept for components that
// need ad hoc jitter outside the backoff policy (e.g. a manual retry loop
// in tests).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
