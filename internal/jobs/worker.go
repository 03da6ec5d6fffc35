package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/metrics"
)

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the rendering worker pool.
type WorkerPoolOptions struct {
	Store        Store
	Orchestrator *Orchestrator
	Workers      int
	QueueSize    int
	// DefaultFPS applies to submissions that leave FPS unset. Zero keeps
	// the package default.
	DefaultFPS int
	Log        zerolog.Logger
}

// WorkerPool executes jobs with a fixed number of goroutines. Submitted
// jobs that do not fit in the queue stay pending in the store until
// Recover picks them up.
type WorkerPool struct {
	jobs   chan *Job
	store  Store
	orch   *Orchestrator
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a worker pool. Workers and QueueSize default to 4
// and 64.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:    make(chan *Job, opts.QueueSize),
		store:   opts.Store,
		orch:    opts.Orchestrator,
		opts:    opts,
		log:     opts.Log.With().Str("component", "workers").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("worker pool started")
}

// Stop drains the queue, waits for running jobs and shuts the pool down.
// Safe to call more than once; later Submits leave their jobs pending.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	already := wp.stopped
	wp.stopped = true
	wp.mu.Unlock()
	if already {
		return
	}
	close(wp.jobs)
	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("worker pool stopped")
}

// Submit validates and persists a new job, then enqueues it. A full
// queue is not an error: the job stays pending and Recover requeues it.
func (wp *WorkerPool) Submit(ctx context.Context, req Request) (*Job, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("text is required")
	}
	if req.FPS <= 0 && wp.opts.DefaultFPS > 0 {
		req.FPS = wp.opts.DefaultFPS
	}
	job := NewJob(req)
	if err := wp.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	wp.orch.publish("created", job)

	if !wp.enqueue(job) {
		wp.log.Warn().Str("job_id", job.ID).Msg("job left pending, queue full or pool stopped")
	}
	return job, nil
}

// enqueue offers the job to the worker queue without blocking. False
// when the queue is full or the pool has stopped; the job stays pending
// in the store either way.
func (wp *WorkerPool) enqueue(job *Job) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- job:
		return true
	default:
		return false
	}
}

// Cancel stops a job. Running jobs get their context cancelled and reach
// the cancelled status through the orchestrator; pending jobs are marked
// cancelled directly and skipped when dequeued.
func (wp *WorkerPool) Cancel(ctx context.Context, id string) error {
	wp.mu.Lock()
	cancelJob, isRunning := wp.running[id]
	wp.mu.Unlock()
	if isRunning {
		cancelJob()
		return nil
	}

	job, err := wp.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", id, job.Status)
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	if err := wp.store.Update(ctx, job); err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	wp.orch.publish("cancelled", job)
	return nil
}

// Recover enqueues pending jobs from the store, oldest first. Called at
// startup to resume jobs left behind by a previous run and periodically
// to drain overflow from full-queue submissions. Returns how many jobs
// were enqueued.
func (wp *WorkerPool) Recover(ctx context.Context) (int, error) {
	pending, err := wp.store.ListByStatus(ctx, StatusPending, cap(wp.jobs))
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	n := 0
	for _, job := range pending {
		if !wp.enqueue(job) {
			return n, nil
		}
		n++
	}
	return n, nil
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Active:    int(wp.active.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// QueuedJobCount reports jobs waiting in the queue.
func (wp *WorkerPool) QueuedJobCount() int64 { return int64(len(wp.jobs)) }

// ActiveJobCount reports jobs currently being processed.
func (wp *WorkerPool) ActiveJobCount() int64 { return wp.active.Load() }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		wp.process(log, job)
	}
}

func (wp *WorkerPool) process(log zerolog.Logger, job *Job) {
	// The queued copy may be stale: refresh and skip anything already
	// finished, covering cancel-while-pending and duplicate enqueues.
	if current, err := wp.store.Get(wp.ctx, job.ID); err == nil {
		job = current
	}
	if job.Status.Terminal() {
		return
	}

	ctx, cancelJob := context.WithCancel(wp.ctx)
	defer cancelJob()

	wp.mu.Lock()
	if _, dup := wp.running[job.ID]; dup {
		wp.mu.Unlock()
		return
	}
	wp.running[job.ID] = cancelJob
	wp.mu.Unlock()

	wp.active.Add(1)
	metrics.JobsActive.Inc()
	defer func() {
		wp.mu.Lock()
		delete(wp.running, job.ID)
		wp.mu.Unlock()
		wp.active.Add(-1)
		metrics.JobsActive.Dec()
	}()

	if err := wp.orch.Run(ctx, job); err != nil {
		wp.failed.Add(1)
		log.Warn().Err(err).Str("job_id", job.ID).Msg("job did not complete")
	} else {
		wp.completed.Add(1)
	}
}
