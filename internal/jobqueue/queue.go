package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// Job represents a unit of work in the job queue
type Job struct {
	ID          string      // Unique ID for this job
	Action      Action      // The action to execute
	Data        any         // Data for the action
	Attempts    int         // Number of attempts made so far
	MaxAttempts int         // Maximum number of attempts allowed
	CreatedAt   time.Time   // When the job was created
	NextRetryAt time.Time   // When to next attempt the job
	Status      JobStatus   // Current status of the job
	LastError   error       // Last error encountered
	Config      RetryConfig // Retry configuration for this job
}

// FailureHandler is invoked when a job permanently fails (permanent error
// or retry exhaustion). It runs on the queue's worker goroutine.
type FailureHandler func(job *Job)

// Queue is an ordered job queue with in-place retry. One worker goroutine
// executes jobs strictly in enqueue order.
type Queue struct {
	name        string
	retryConfig RetryConfig
	execTimeout time.Duration
	maxJobs     int
	onFailure   FailureHandler
	logger      *slog.Logger

	mu         sync.Mutex
	jobs       []*Job
	jobCounter int
	stats      Stats
	isRunning  bool
	wake       chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxJobs bounds the number of queued jobs; Enqueue returns
// ErrQueueFull beyond the bound.
func WithMaxJobs(n int) Option {
	return func(q *Queue) { q.maxJobs = n }
}

// WithExecTimeout bounds each execution attempt.
func WithExecTimeout(d time.Duration) Option {
	return func(q *Queue) { q.execTimeout = d }
}

// WithFailureHandler registers a callback for permanently failed jobs.
func WithFailureHandler(fn FailureHandler) Option {
	return func(q *Queue) { q.onFailure = fn }
}

// New creates a queue with the given name and retry policy.
func New(name string, retryConfig RetryConfig, opts ...Option) *Queue {
	q := &Queue{
		name:        name,
		retryConfig: retryConfig,
		execTimeout: 30 * time.Second,
		maxJobs:     1000,
		logger:      logging.ForService("jobqueue").With("queue", name),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Start launches the worker goroutine. Calling Start on a running queue is
// a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.worker(workerCtx)
}

// Stop stops the worker and waits for the in-flight job, up to timeout.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue %s: timed out waiting for worker to stop after %v", q.name, timeout)
	}
}

// Enqueue adds a job to the tail of the queue.
func (q *Queue) Enqueue(action Action, data any) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}
	if len(q.jobs) >= q.maxJobs {
		q.stats.RejectedJobs++
		return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
	}

	maxAttempts := 1
	if q.retryConfig.Enabled {
		maxAttempts = q.retryConfig.MaxRetries + 1
	}

	q.jobCounter++
	job := &Job{
		ID:          fmt.Sprintf("%s-%d", q.name, q.jobCounter),
		Action:      action,
		Data:        data,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
		NextRetryAt: time.Now(),
		Status:      JobStatusPending,
		Config:      q.retryConfig,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// GetStats returns a snapshot of queue statistics.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.PendingJobs = len(q.jobs)
	return s
}

// worker executes jobs from the head of the queue until the context ends.
func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)

	for {
		job, wait := q.headJob()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			case <-q.wake:
				// re-evaluate: an earlier wake does not change the head's
				// retry deadline, loop and wait again
			}
			continue
		}

		q.runHead(ctx, job)

		if ctx.Err() != nil {
			return
		}
	}
}

// headJob returns the job at the head of the queue and how long to wait
// before it is due, or (nil, 0) when the queue is empty.
func (q *Queue) headJob() (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, 0
	}
	job := q.jobs[0]
	if wait := time.Until(job.NextRetryAt); wait > 0 {
		return job, wait
	}
	return job, 0
}

// runHead executes the head job once and applies the retry policy.
func (q *Queue) runHead(ctx context.Context, job *Job) {
	job.Status = JobStatusRunning
	job.Attempts++

	if job.Attempts > 1 {
		q.mu.Lock()
		q.stats.RetryAttempts++
		q.mu.Unlock()
		q.logger.Debug("retrying job", "job_id", job.ID, "attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	}

	execCtx, cancel := context.WithTimeout(ctx, q.execTimeout)
	err := q.executeWithRecovery(execCtx, job)
	cancel()

	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		q.pop(job, true)

	case IsPermanent(err) || job.Attempts >= job.MaxAttempts:
		job.Status = JobStatusFailed
		job.LastError = err
		q.logger.Warn("job permanently failed",
			"job_id", job.ID,
			"action", job.Action.GetDescription(),
			"attempts", job.Attempts,
			"error", err)
		q.pop(job, false)
		if q.onFailure != nil {
			q.onFailure(job)
		}

	default:
		job.Status = JobStatusRetrying
		job.LastError = err
		job.NextRetryAt = time.Now().Add(calculateBackoffDelay(job.Config, job.Attempts-1))
		q.logger.Debug("job failed, will retry",
			"job_id", job.ID,
			"next_retry_at", job.NextRetryAt,
			"error", err)
	}
}

// executeWithRecovery runs the action, converting panics into errors so a
// misbehaving action cannot kill the worker.
func (q *Queue) executeWithRecovery(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in action %s: %v", job.Action.GetDescription(), r)
		}
	}()
	return job.Action.Execute(ctx, job.Data)
}

// pop removes the head job and updates stats.
func (q *Queue) pop(job *Job, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) > 0 && q.jobs[0] == job {
		q.jobs = q.jobs[1:]
	}
	if success {
		q.stats.SuccessfulJobs++
	} else {
		q.stats.FailedJobs++
	}
}

// calculateBackoffDelay calculates the delay before the next retry attempt,
// exponential with light jitter, capped at MaxDelay.
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}
