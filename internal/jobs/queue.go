package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Submit after Close has been called.
var ErrQueueClosed = errors.New("job queue closed")

// ErrQueueFull is returned by Submit when the buffer is saturated.
var ErrQueueFull = errors.New("job queue full")

// Func is a unit of background work. The context is detached from any request
// and carries only the per-job timeout.
type Func func(ctx context.Context) error

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Workers is the number of concurrent workers. Default 4.
	Workers int `yaml:"workers"`
	// Buffer is the number of pending jobs accepted before Submit fails. Default 256.
	Buffer int `yaml:"buffer"`
	// Timeout bounds each job. Zero means 5 minutes.
	Timeout time.Duration `yaml:"timeout"`
	// Retention controls how long finished records are kept. Zero means 1 hour.
	Retention time.Duration `yaml:"retention"`

	Store    Store                                                `yaml:"-"`
	Logger   *slog.Logger                                         `yaml:"-"`
	OnFinish func(kind string, status Status, took time.Duration) `yaml:"-"`
}

type task struct {
	job *Job
	fn  Func
}

// Queue is a bounded worker pool for fire-and-forget work. Failures are
// recorded in the Store and logged; callers never observe them.
type Queue struct {
	config QueueConfig
	logger *slog.Logger
	store  Store
	tasks  chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewQueue starts the workers and returns the queue.
func NewQueue(config QueueConfig) *Queue {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "jobs")
	}

	q := &Queue{
		config: config,
		logger: logger,
		store:  config.Store,
		tasks:  make(chan task, config.Buffer),
		now:    time.Now,
	}
	for i := 0; i < config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn and returns the job id without waiting for it to run.
func (q *Queue) Submit(kind string, fn Func) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("submit %s: nil job func", kind)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusQueued,
		CreatedAt: q.now(),
	}

	if err := q.store.Create(context.Background(), job); err != nil {
		q.logger.Warn("failed to record job", "job_id", job.ID, "error", err)
	}

	select {
	case q.tasks <- task{job: cloneJob(job), fn: fn}:
		return job.ID, nil
	default:
		q.logger.Error("job queue full, dropping job", "kind", kind)
		job.Status = StatusFailed
		job.Error = ErrQueueFull.Error()
		job.FinishedAt = q.now()
		q.update(job)
		q.finish(kind, StatusFailed, 0)
		return "", ErrQueueFull
	}
}

// Get returns the recorded state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// Close stops accepting work and waits for queued jobs to finish or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain job queue: %w", ctx.Err())
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	job := t.job
	job.Status = StatusRunning
	job.StartedAt = q.now()
	q.update(job)

	ctx, cancel := context.WithTimeout(context.Background(), q.config.Timeout)
	err := q.safeCall(ctx, t.fn)
	cancel()

	job.FinishedAt = q.now()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		q.logger.Error("background job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	} else {
		job.Status = StatusSucceeded
	}
	q.update(job)
	q.finish(job.Kind, job.Status, job.FinishedAt.Sub(job.StartedAt))

	if _, err := q.store.Prune(context.Background(), q.config.Retention); err != nil {
		q.logger.Warn("failed to prune jobs", "error", err)
	}
}

func (q *Queue) safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (q *Queue) update(job *Job) {
	if err := q.store.Update(context.Background(), job); err != nil {
		q.logger.Warn("failed to update job", "job_id", job.ID, "error", err)
	}
}

func (q *Queue) finish(kind string, status Status, took time.Duration) {
	if q.config.OnFinish != nil {
		q.config.OnFinish(kind, status, took)
	}
}
