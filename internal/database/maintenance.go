package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeTerminalJobs deletes finished job rows older than the retention
// period, measured from completion. The artifacts themselves are owned by
// the storage tier and pruned there.
func (s *JobStore) PurgeTerminalJobs(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < now() - make_interval(secs => $1)`,
		retention.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FailStale fails jobs stuck in processing whose last update is older
// than olderThan. Covers workers that died mid-job; the processing to
// failed transition is the only legal exit left for such rows.
func (s *JobStore) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error = $2,
		    updated_at = now(),
		    completed_at = now()
		WHERE status = 'processing'
		  AND updated_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds(),
		fmt.Sprintf("worker lost: no progress for %s", olderThan),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
