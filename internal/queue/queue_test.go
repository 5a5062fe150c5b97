package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testQueue(t *testing.T, workers, buffer int) *Queue {
	t.Helper()
	q := New(workers, buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func TestEnqueueAndWait(t *testing.T) {
	q := testQueue(t, 2, 4)

	var ran atomic.Bool
	h, err := q.Enqueue(Job{
		Name: "ok",
		Run: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !ran.Load() {
		t.Error("job did not run")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	q := testQueue(t, 1, 4)

	var attempts atomic.Int32
	h, err := q.Enqueue(Job{
		Name:        "flaky",
		MaxAttempts: 3,
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetryExhaustion(t *testing.T) {
	q := testQueue(t, 1, 4)

	failure := errors.New("still broken")
	var attempts atomic.Int32
	h, err := q.Enqueue(Job{
		Name:        "broken",
		MaxAttempts: 3,
		Run: func(context.Context) error {
			attempts.Add(1)
			return failure
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.Wait(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("wait: got %v, want the job error", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestTerminalErrorSkipsRetry(t *testing.T) {
	q := testQueue(t, 1, 4)

	terminal := errors.New("validation failed")
	var attempts atomic.Int32
	h, err := q.Enqueue(Job{
		Name:        "terminal",
		MaxAttempts: 3,
		Terminal:    func(err error) bool { return errors.Is(err, terminal) },
		Run: func(context.Context) error {
			attempts.Add(1)
			return terminal
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.Wait(context.Background()); !errors.Is(err, terminal) {
		t.Fatalf("wait: got %v, want the terminal error", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on terminal errors)", got)
	}
}

func TestWaitBudgetExpiresWhileJobContinues(t *testing.T) {
	q := testQueue(t, 1, 4)

	release := make(chan struct{})
	var finished atomic.Bool
	h, err := q.Enqueue(Job{
		Name: "slow",
		Run: func(context.Context) error {
			<-release
			finished.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait: got %v, want deadline exceeded", err)
	}
	if finished.Load() {
		t.Fatal("job finished before release; test is not exercising the timeout")
	}

	close(release)
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if !finished.Load() {
		t.Error("job did not keep running after the wait budget expired")
	}
}

func TestEnqueueFullBuffer(t *testing.T) {
	q := testQueue(t, 1, 1)

	release := make(chan struct{})
	defer close(release)
	blocker := func(context.Context) error { <-release; return nil }

	// Occupy the single worker, then fill the single buffer slot.
	if _, err := q.Enqueue(Job{Name: "running", Run: blocker}); err != nil {
		t.Fatalf("enqueue running: %v", err)
	}
	// Give the worker a moment to pick up the first job.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := q.Enqueue(Job{Name: "buffered", Run: blocker}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first job")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := q.Enqueue(Job{Name: "overflow", Run: blocker}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue overflow: got %v, want ErrQueueFull", err)
	}
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := New(1, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := q.Enqueue(Job{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
}

func TestShutdownDrainsQueuedJobs(t *testing.T) {
	q := New(1, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(Job{Name: "drain", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := ran.Load(); got != 5 {
		t.Errorf("ran %d jobs, want all 5 drained", got)
	}
}
