package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// jobPrefix is the key namespace artifacts live under. Keys look like
// jobs/{job_id}/{filename} and every tier agrees on that layout.
const jobPrefix = "jobs"

// LocalStore keeps artifacts on local disk under one root directory. It
// is the primary tier: jobs finalize against it, and the tiered store
// replicates from it into S3.
type LocalStore struct {
	rootDir string
}

// NewLocalStore creates a local filesystem artifact store.
func NewLocalStore(rootDir string) *LocalStore {
	return &LocalStore{rootDir: rootDir}
}

// resolve maps an artifact key to a path under the root. Keys come from
// job IDs via the API surface, so anything that would escape the root is
// rejected rather than joined.
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	clean := path.Clean(key)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("artifact key %q escapes the store", key)
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(clean)), nil
}

// Save writes the artifact atomically: the data lands in a temp file in
// the destination directory and is renamed into place, so readers never
// see a partial artifact.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	dst, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	full, err := s.resolve(key)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}

func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	full, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the artifact root directory.
func (s *LocalStore) Dir() string { return s.rootDir }

// RemoveJob deletes every local artifact belonging to one job. Used by
// the pruner once a job's artifacts are safe in S3.
func (s *LocalStore) RemoveJob(jobID string) error {
	if jobID == "" || jobID != filepath.Base(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return os.RemoveAll(filepath.Join(s.rootDir, jobPrefix, jobID))
}
