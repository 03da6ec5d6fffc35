package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sushil32/Neura/internal/jobs"
)

const jobColumns = `id, user_id, text, voice_id, face_id, model, width, height, fps,
	status, progress, current_step, error, degraded, credits, artifact_key,
	created_at, updated_at, started_at, completed_at`

// JobStore is the pgx-backed jobs.Store.
type JobStore struct {
	db *DB
}

// NewJobStore creates a JobStore on the connected database.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *jobs.Job) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		job.ID, job.UserID, job.Text, job.VoiceID, job.FaceID, job.Model,
		job.Width, job.Height, job.FPS,
		job.Status, job.Progress, job.CurrentStep, job.Error, job.Degraded,
		job.Credits, job.ArtifactKey,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return job, err
}

// Update applies the job state under a row lock so the lifecycle rules in
// jobs.ApplyUpdate hold even with concurrent writers.
func (s *JobStore) Update(ctx context.Context, job *jobs.Job) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, job.ID)
	stored, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.ErrNotFound
	}
	if err != nil {
		return err
	}

	next, err := jobs.ApplyUpdate(stored, job)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = $2, progress = $3, current_step = $4, error = $5,
			degraded = $6, credits = $7, artifact_key = $8,
			updated_at = $9, started_at = $10, completed_at = $11
		WHERE id = $1`,
		next.ID, next.Status, next.Progress, next.CurrentStep, next.Error,
		next.Degraded, next.Credits, next.ArtifactKey,
		next.UpdatedAt, next.StartedAt, next.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	*job = *next
	return nil
}

func (s *JobStore) ListByStatus(ctx context.Context, status jobs.Status, limit int) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(
		&j.ID, &j.UserID, &j.Text, &j.VoiceID, &j.FaceID, &j.Model,
		&j.Width, &j.Height, &j.FPS,
		&j.Status, &j.Progress, &j.CurrentStep, &j.Error, &j.Degraded,
		&j.Credits, &j.ArtifactKey,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
