// Package assets maintains the catalog of reference material jobs can
// point at: face images under faces/ and voice samples under voices/.
// The directory is watched with fsnotify so operators can drop in new
// references without a restart.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Kind distinguishes the two asset classes.
type Kind string

const (
	KindFace  Kind = "faces"
	KindVoice Kind = "voices"
)

// Asset is one catalog entry. The ID is the filename without extension.
type Asset struct {
	ID   string
	Kind Kind
	Path string
}

// Catalog indexes the asset directory and keeps the index fresh.
type Catalog struct {
	rootDir string
	log     zerolog.Logger

	mu     sync.RWMutex
	assets map[Kind]map[string]Asset

	watcher *fsnotify.Watcher
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewCatalog creates a catalog over rootDir and performs the initial scan.
// Missing subdirectories are created so the watcher has something to hold.
func NewCatalog(rootDir string, log zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		rootDir:        rootDir,
		log:            log.With().Str("component", "assets").Logger(),
		assets:         map[Kind]map[string]Asset{KindFace: {}, KindVoice: {}},
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}

	for _, k := range []Kind{KindFace, KindVoice} {
		if err := os.MkdirAll(filepath.Join(rootDir, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", k, err)
		}
	}

	if err := c.Rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Watch starts the fsnotify loop. Call Close to stop it.
func (c *Catalog) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = w

	for _, k := range []Kind{KindFace, KindVoice} {
		if err := w.Add(filepath.Join(c.rootDir, string(k))); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", k, err)
		}
	}

	go c.watchLoop()
	c.log.Info().Str("dir", c.rootDir).Msg("asset watcher started")
	return nil
}

// Close stops the watcher.
func (c *Catalog) Close() {
	close(c.done)
	if c.watcher != nil {
		c.watcher.Close()
	}
}

// Rescan rebuilds the index from disk.
func (c *Catalog) Rescan() error {
	next := map[Kind]map[string]Asset{KindFace: {}, KindVoice: {}}
	for _, k := range []Kind{KindFace, KindVoice} {
		dir := filepath.Join(c.rootDir, string(k))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", k, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			id := assetID(e.Name())
			next[k][id] = Asset{ID: id, Kind: k, Path: filepath.Join(dir, e.Name())}
		}
	}

	c.mu.Lock()
	c.assets = next
	c.mu.Unlock()
	return nil
}

// ResolveFace returns the face asset for the ID, or an error naming it.
func (c *Catalog) ResolveFace(id string) (Asset, error) {
	return c.resolve(KindFace, id)
}

// ResolveVoice returns the voice asset for the ID.
func (c *Catalog) ResolveVoice(id string) (Asset, error) {
	return c.resolve(KindVoice, id)
}

func (c *Catalog) resolve(k Kind, id string) (Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[k][id]
	if !ok {
		return Asset{}, fmt.Errorf("unknown %s reference %q", strings.TrimSuffix(string(k), "s"), id)
	}
	return a, nil
}

// List returns all assets of a kind.
func (c *Catalog) List(k Kind) []Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Asset, 0, len(c.assets[k]))
	for _, a := range c.assets[k] {
		out = append(out, a)
	}
	return out
}

func (c *Catalog) watchLoop() {
	for {
		select {
		case <-c.done:
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.scheduleRescan(event.Name)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleRescan debounces index rebuilds by 500ms so a burst of events
// from one copy operation triggers a single rescan.
func (c *Catalog) scheduleRescan(path string) {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if t, ok := c.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	c.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		c.debounceMu.Lock()
		delete(c.debounceTimers, path)
		c.debounceMu.Unlock()

		if err := c.Rescan(); err != nil {
			c.log.Warn().Err(err).Msg("asset rescan failed")
			return
		}
		c.log.Debug().Str("trigger", path).Msg("asset catalog reloaded")
	})
}

func assetID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
