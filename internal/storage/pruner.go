package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RemoteIndex is the slice of the S3 tier the pruner consults before
// deleting anything locally.
type RemoteIndex interface {
	Exists(ctx context.Context, key string) bool
}

// JobDoneFunc reports whether a job has reached a terminal status.
// Unknown jobs count as done so orphaned directories still age out.
type JobDoneFunc func(ctx context.Context, jobID string) bool

// PrunerOptions configure a CachePruner. Retention and MaxGB are
// independent limits; zero disables the respective one.
type PrunerOptions struct {
	Dir       string
	Retention time.Duration
	MaxGB     int
	Remote    RemoteIndex
	JobDone   JobDoneFunc
	Log       zerolog.Logger
}

// CachePruner bounds the local artifact tier, evicting whole jobs at a
// time. A job directory is eligible only once the job is terminal and
// every file in it exists in S3; eviction then happens by age or, when
// the tier is over its size cap, oldest job first.
type CachePruner struct {
	root      string
	retention time.Duration
	maxBytes  int64
	interval  time.Duration
	remote    RemoteIndex
	jobDone   JobDoneFunc
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewCachePruner creates a pruner over the artifact directory.
func NewCachePruner(opts PrunerOptions) *CachePruner {
	return &CachePruner{
		root:      opts.Dir,
		retention: opts.Retention,
		maxBytes:  int64(opts.MaxGB) * 1024 * 1024 * 1024,
		interval:  1 * time.Hour,
		remote:    opts.Remote,
		jobDone:   opts.JobDone,
		log:       opts.Log.With().Str("component", "cache-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *CachePruner) Start() {
	go p.loop()
}

func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *CachePruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

// jobDir is one job's local artifact directory.
type jobDir struct {
	id     string
	path   string
	newest time.Time
	size   int64
	keys   []string
}

func (p *CachePruner) prune() {
	if p.retention == 0 && p.maxBytes == 0 {
		return
	}

	dirs, totalSize := p.scan()
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].newest.Before(dirs[j].newest)
	})

	cutoff := time.Now().Add(-p.retention)
	var prunedJobs int
	var prunedBytes int64
	var skippedActive, skippedNotRemote int

	for _, d := range dirs {
		overAge := p.retention > 0 && d.newest.Before(cutoff)
		overSize := p.maxBytes > 0 && totalSize > p.maxBytes
		if !overAge && !overSize {
			// Jobs are sorted oldest first, so nothing later is over
			// the age limit either, and the size cap is satisfied.
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ok := p.evictable(ctx, d, &skippedActive, &skippedNotRemote)
		cancel()
		if !ok {
			continue
		}

		if err := os.RemoveAll(d.path); err != nil {
			p.log.Warn().Err(err).Str("job_id", d.id).Msg("prune failed")
			continue
		}
		prunedJobs++
		prunedBytes += d.size
		totalSize -= d.size
	}

	if prunedJobs > 0 || skippedActive > 0 || skippedNotRemote > 0 {
		p.log.Info().
			Int("jobs", prunedJobs).
			Str("freed", humanizeBytes(prunedBytes)).
			Str("remaining", humanizeBytes(totalSize)).
			Int("skipped_active", skippedActive).
			Int("skipped_not_in_s3", skippedNotRemote).
			Msg("cache prune complete")
	}
}

// evictable checks the two safety conditions: the job is no longer
// running, and every artifact has a durable copy.
func (p *CachePruner) evictable(ctx context.Context, d jobDir, skippedActive, skippedNotRemote *int) bool {
	if p.jobDone != nil && !p.jobDone(ctx, d.id) {
		*skippedActive++
		return false
	}
	if p.remote != nil {
		for _, key := range d.keys {
			if !p.remote.Exists(ctx, key) {
				*skippedNotRemote++
				p.log.Warn().Str("key", key).Msg("skipping prune: artifact not in S3")
				return false
			}
		}
	}
	return true
}

// scan collects every job directory with its total size, newest file
// mtime and artifact keys.
func (p *CachePruner) scan() ([]jobDir, int64) {
	base := filepath.Join(p.root, jobPrefix)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, 0
	}

	var dirs []jobDir
	var total int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d := jobDir{id: e.Name(), path: filepath.Join(base, e.Name())}
		filepath.WalkDir(d.path, func(path string, de fs.DirEntry, err error) error {
			if err != nil || de.IsDir() {
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(p.root, path)
			if relErr != nil {
				return nil
			}
			d.keys = append(d.keys, filepath.ToSlash(rel))
			d.size += info.Size()
			if info.ModTime().After(d.newest) {
				d.newest = info.ModTime()
			}
			return nil
		})
		dirs = append(dirs, d)
		total += d.size
	}
	return dirs, total
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
