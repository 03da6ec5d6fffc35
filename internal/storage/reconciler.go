package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// UploadReconciler scans local artifacts missing from S3 and re-uploads
// them. Handles failed/dropped async uploads and crash recovery.
type UploadReconciler struct {
	cacheDir string
	s3       *S3Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(cacheDir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		cacheDir: cacheDir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() {
	cutoff := time.Now().Add(-r.window)

	var candidates []string
	filepath.WalkDir(r.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		// In-flight atomic writes
		if strings.HasPrefix(d.Name(), ".artifact-") && strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})

	var uploaded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, path := range candidates {
		path := path
		g.Go(func() error {
			rel, relErr := filepath.Rel(r.cacheDir, path)
			if relErr != nil {
				return nil
			}
			key := filepath.ToSlash(rel)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.s3.Exists(ctx, key)
			cancel()
			if exists {
				return nil
			}

			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}

			ct := contentTypeFromExt(filepath.Ext(path))
			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if saveErr := r.s3.Save(ctx, key, data, ct); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed.Add(1)
			} else {
				uploaded.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if uploaded.Load() > 0 || failed.Load() > 0 {
		r.log.Info().
			Int64("uploaded", uploaded.Load()).
			Int64("failed", failed.Load()).
			Int("checked", len(candidates)).
			Msg("reconcile complete")
	}
}

// contentTypeFromExt returns the MIME type for an artifact file extension.
func contentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".wav":
		return "audio/wav"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
