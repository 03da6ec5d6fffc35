package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by stores for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Store persists jobs. The database package provides the pgx-backed
// implementation; MemoryStore backs tests and database-less deployments.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies the job's current state. Implementations enforce
	// the lifecycle rules via ApplyUpdate.
	Update(ctx context.Context, job *Job) error
	// ListByStatus returns up to limit jobs in the given status, oldest
	// first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
}

// ApplyUpdate merges an update into the stored job while enforcing the
// lifecycle invariants shared by all Store implementations: a terminal
// status never changes again, status transitions follow the state
// machine, and progress never decreases.
func ApplyUpdate(stored, update *Job) (*Job, error) {
	if stored.Status.Terminal() && update.Status != stored.Status {
		return nil, fmt.Errorf("job %s is %s: no further transitions", stored.ID, stored.Status)
	}
	if !CanTransition(stored.Status, update.Status) {
		return nil, fmt.Errorf("job %s: invalid transition %s -> %s", stored.ID, stored.Status, update.Status)
	}

	next := *update
	if next.Progress < stored.Progress {
		next.Progress = stored.Progress
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = stored.CreatedAt
	}
	next.UpdatedAt = time.Now().UTC()
	return &next, nil
}

// MemoryStore is a concurrency-safe in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	next, err := ApplyUpdate(stored, job)
	if err != nil {
		return err
	}
	s.jobs[job.ID] = next
	*job = *next
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			cp := *job
			out = append(out, &cp)
		}
	}
	// Oldest first, matching the database ordering.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
