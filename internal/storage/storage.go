// Package storage persists rendered artifacts. Local disk is the primary
// tier; an optional S3 backend adds durability, with background services
// keeping the two in sync and bounding local disk usage.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ArtifactStore abstracts artifact storage backends.
type ArtifactStore interface {
	// Save stores artifact data. key format: jobs/{job_id}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the artifact.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an artifact exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Options configure the storage stack.
type Options struct {
	ArtifactDir string

	// S3 settings. An empty Bucket disables the S3 tier.
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PathStyle     bool
	Prefix        string
	PresignExpiry time.Duration

	// Retention and MaxGB bound the local tier when S3 holds the
	// durable copy. Zero disables the respective limit.
	Retention time.Duration
	MaxGB     int

	// JobDone lets the pruner skip jobs that are still running. Nil
	// means age and durability alone decide.
	JobDone JobDoneFunc
}

// New creates an ArtifactStore based on options. Returns the store and
// optional background services (pruner, reconciler) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(opts Options, log zerolog.Logger) (ArtifactStore, []BackgroundService, error) {
	if opts.Bucket == "" {
		return NewLocalStore(opts.ArtifactDir), nil, nil
	}

	s3store, err := NewS3Store(opts, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			opts.Bucket, opts.Endpoint, err)
	}
	log.Info().Str("bucket", opts.Bucket).Str("endpoint", opts.Endpoint).Msg("S3 connection verified")

	// Tiered mode: local primary + S3 backup
	local := NewLocalStore(opts.ArtifactDir)
	uploader := NewAsyncUploader(s3store, 64, 2, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{uploader}

	if opts.Retention > 0 || opts.MaxGB > 0 {
		pruner := NewCachePruner(PrunerOptions{
			Dir:       opts.ArtifactDir,
			Retention: opts.Retention,
			MaxGB:     opts.MaxGB,
			Remote:    s3store,
			JobDone:   opts.JobDone,
			Log:       log,
		})
		services = append(services, pruner)
	}

	reconciler := NewUploadReconciler(opts.ArtifactDir, s3store, log)
	services = append(services, reconciler)

	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
