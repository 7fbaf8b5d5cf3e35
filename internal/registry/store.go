package registry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"projectctl/internal/errdefs"
	"projectctl/pkg/logging"
)

const (
	defaultLockTimeout  = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	defaultMRULimit     = 10
)

// Store persists the Record. Every mutation goes through Commit, which holds
// an exclusive advisory lock across read-modify-write and replaces the file
// atomically.
type Store struct {
	path         string
	lockPath     string
	lockTimeout  time.Duration
	pollInterval time.Duration
	mruLimit     int

	// Test hooks simulating a crash between the steps of a write.
	afterTempWrite func(tmpPath string) error
	afterRename    func() error
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Commit waits for the lock before failing with ErrBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithMRULimit bounds the recent-projects stack.
func WithMRULimit(n int) Option {
	return func(s *Store) { s.mruLimit = n }
}

// New creates a store for the registry file at path guarded by lockPath.
func New(path, lockPath string, opts ...Option) *Store {
	s := &Store{
		path:         path,
		lockPath:     lockPath,
		lockTimeout:  defaultLockTimeout,
		pollInterval: defaultPollInterval,
		mruLimit:     defaultMRULimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the registry file location.
func (s *Store) Path() string { return s.path }

// MRULimit returns the configured bound of the recent stack.
func (s *Store) MRULimit() int { return s.mruLimit }

// Load reads the registry without taking the lock. Readers always observe a
// complete file because writers replace it by rename. A missing file is an
// empty registry; an unparseable one is ErrCorruptState.
func (s *Store) Load() (*Record, error) {
	rec, _, err := s.read()
	return rec, err
}

func (s *Store) read() (*Record, []byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRecord(), nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read registry %s: %w", s.path, err)
	}

	rec := NewRecord()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, rec); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v (fix or move the file aside; it is never repaired automatically)",
				errdefs.ErrCorruptState, s.path, err)
		}
	}
	if rec.Version == 0 {
		rec.Version = CurrentVersion
	}
	if rec.Version > CurrentVersion {
		logging.Warn("Registry", "registry %s has version %d, newer than %d; unknown fields are preserved", s.path, rec.Version, CurrentVersion)
	}
	if err := rec.Validate(0); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", errdefs.ErrCorruptState, s.path, err)
	}
	return rec, data, nil
}

// Commit locks the registry, applies mutate to the freshly loaded record and
// writes the result. A mutator error aborts the commit without writing. The
// returned record is the committed state.
func (s *Store) Commit(ctx context.Context, mutate func(*Record) error) (*Record, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, before, err := s.read()
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}

	if s.mruLimit > 0 && len(rec.Recent) > s.mruLimit {
		rec.Recent = rec.Recent[:s.mruLimit]
	}
	if err := rec.Validate(s.mruLimit); err != nil {
		return nil, fmt.Errorf("refusing to write invalid registry: %w", err)
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	if before != nil && bytes.Equal(before, data) {
		logging.Debug("Registry", "commit produced no changes, skipping write")
		return rec, nil
	}
	if err := s.writeAtomic(data); err != nil {
		return nil, err
	}
	return rec, nil
}

// writeAtomic replaces the registry via temp file, fsync and rename; the
// lock must be held.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".projects-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	// Best-effort cleanup; a no-op after a successful rename
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close registry file: %w", err)
	}

	if s.afterTempWrite != nil {
		if err := s.afterTempWrite(tmp); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}

	if s.afterRename != nil {
		if err := s.afterRename(); err != nil {
			return err
		}
	}

	// Ensure directory metadata is persisted
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return nil
}
