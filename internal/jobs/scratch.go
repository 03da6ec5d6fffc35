package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// SweepScratch removes scratch directories left behind by crashed or
// finished jobs. A directory survives only when its job exists and is
// not terminal. Called once at startup before workers begin.
func SweepScratch(ctx context.Context, root string, store Store, log zerolog.Logger) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", root).Msg("scratch sweep skipped")
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		job, err := store.Get(ctx, e.Name())
		switch {
		case err == nil && !job.Status.Terminal():
			continue
		case err != nil && !errors.Is(err, ErrNotFound):
			// Store trouble; keep the directory rather than guess.
			continue
		}
		if rmErr := os.RemoveAll(filepath.Join(root, e.Name())); rmErr == nil {
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", root).Msg("orphaned scratch dirs cleaned")
	}
	return removed
}
