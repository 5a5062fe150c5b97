// Package queue provides an in-process job queue with a bounded worker
// pool. Callers get a Handle per submission, which supports the bounded
// wait that backs synchronous request handling: wait up to a budget, then
// let the job finish in the background.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the submission buffer is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned for submissions after Shutdown.
	ErrQueueClosed = errors.New("job queue is shut down")
)

// Job is one unit of work. The retry policy is explicit per submission.
type Job struct {
	// Name appears in log lines.
	Name string
	Run  func(ctx context.Context) error
	// MaxAttempts bounds retries; zero means a single attempt.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	// Zero means 1 second.
	Backoff time.Duration
	// Terminal classifies errors that retrying cannot fix. A terminal error
	// stops the attempt loop immediately.
	Terminal func(error) bool
}

// Handle tracks one submitted job to completion.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed when the job has finished all attempts.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the final error of the job. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Wait blocks until the job finishes or ctx expires. On expiry it returns
// ctx.Err(); the job keeps running in the background.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type submission struct {
	job    Job
	handle *Handle
}

// Queue runs jobs on a fixed pool of workers.
type Queue struct {
	log  *slog.Logger
	jobs chan submission
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New starts a queue with the given worker count and submission buffer.
func New(workers, buffer int, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		log:    log,
		jobs:   make(chan submission, buffer),
		cancel: cancel,
		sleep:  sleepCtx,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx)
	}
	return q
}

// Enqueue submits a job without blocking. It returns ErrQueueFull when the
// buffer is at capacity and ErrQueueClosed after Shutdown.
func (q *Queue) Enqueue(job Job) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	h := &Handle{done: make(chan struct{})}
	select {
	case q.jobs <- submission{job: job, handle: h}:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued work to drain, up to
// ctx's deadline. After the deadline, running jobs are cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-drained
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for sub := range q.jobs {
		sub.handle.err = q.attempt(ctx, sub.job)
		close(sub.handle.done)
	}
}

// attempt runs the job through its retry policy.
func (q *Queue) attempt(ctx context.Context, job Job) error {
	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := job.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = job.Run(ctx)
		if err == nil {
			return nil
		}
		if job.Terminal != nil && job.Terminal(err) {
			q.log.Warn("job failed permanently", "job", job.Name, "attempt", attempt, "error", err)
			return err
		}
		if attempt == maxAttempts {
			break
		}
		q.log.Warn("job failed, retrying", "job", job.Name, "attempt", attempt, "backoff", backoff, "error", err)
		if sleepErr := q.sleep(ctx, backoff); sleepErr != nil {
			return err
		}
		backoff *= 2
	}
	q.log.Error("job exhausted retries", "job", job.Name, "attempts", maxAttempts, "error", err)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
