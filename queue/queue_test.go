package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/roadmap"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "workers", "worker-1")
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueue then poll round-trips the job", func(t *testing.T) {
		q := newTestQueue(t)

		id, err := q.Enqueue(ctx, QueueContent, Job{
			Type: JobWorkflowRun, TaskID: "task-1",
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if id == "" {
			t.Fatal("empty external id")
		}

		d, err := q.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d == nil {
			t.Fatal("no delivery")
		}
		if d.Job.Type != JobWorkflowRun || d.Job.TaskID != "task-1" {
			t.Errorf("job = %+v", d.Job)
		}
		if err := q.Ack(ctx, QueueContent, d.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}

		depth, err := q.Depth(ctx, QueueContent)
		if err != nil {
			t.Fatalf("depth: %v", err)
		}
		if depth != 0 {
			t.Errorf("depth after ack = %d", depth)
		}
	})

	t.Run("queues are isolated", func(t *testing.T) {
		q := newTestQueue(t)

		log := &roadmap.ExecutionLog{TraceID: "task-1", Level: "info", Category: "node"}
		if _, err := q.Enqueue(ctx, QueueLogs, Job{Type: JobExecutionLog, TaskID: "task-1", Log: log}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		d, err := q.Poll(ctx, QueueContent, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d != nil {
			t.Fatalf("content queue delivered a logs job: %+v", d.Job)
		}

		d, err = q.Poll(ctx, QueueLogs, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d == nil || d.Job.Log == nil || d.Job.Log.TraceID != "task-1" {
			t.Fatalf("delivery = %+v", d)
		}
	})

	t.Run("cancelled jobs are dropped", func(t *testing.T) {
		q := newTestQueue(t)

		id, err := q.Enqueue(ctx, QueueContent, Job{Type: JobWorkflowRun, TaskID: "task-1"})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := q.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		d, err := q.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d != nil {
			t.Fatalf("cancelled job delivered: %+v", d.Job)
		}
	})

	t.Run("nack bumps attempt and delays", func(t *testing.T) {
		q := newTestQueue(t)

		if _, err := q.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "task-1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		d, err := q.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil || d == nil {
			t.Fatalf("poll: %v %v", d, err)
		}

		if err := q.Nack(ctx, QueueContent, d, time.Hour); err != nil {
			t.Fatalf("nack: %v", err)
		}

		// Delayed far into the future, so the next poll yields nothing.
		d, err = q.Poll(ctx, QueueContent, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d != nil {
			t.Fatalf("delayed job delivered early: %+v", d.Job)
		}
	})

	t.Run("unacked delivery is not reclaimed before the idle threshold", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		a := New(client, "workers", "worker-a")
		b := New(client, "workers", "worker-b")

		if _, err := a.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "task-1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if d, err := a.Poll(ctx, QueueContent, 100*time.Millisecond); err != nil || d == nil {
			t.Fatalf("poll: %v %v", d, err)
		}

		// worker-a is still processing; worker-b must come up empty.
		stolen, err := b.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if stolen != nil {
			t.Fatalf("job for task %s delivered to worker-b while worker-a holds it", stolen.Job.TaskID)
		}
	})

	t.Run("stale delivery is reclaimed after the idle threshold", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		a := New(client, "workers", "worker-a")

		b, err := Open(ctx, Config{Addr: mr.Addr(), ReclaimIdle: 50 * time.Millisecond}, "workers", "worker-b")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { b.Close() })

		if _, err := a.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "task-1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if d, err := a.Poll(ctx, QueueContent, 100*time.Millisecond); err != nil || d == nil {
			t.Fatalf("poll: %v %v", d, err)
		}

		// worker-a dies without acking; the entry goes idle past b's
		// threshold.
		time.Sleep(120 * time.Millisecond)

		d, err := b.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d == nil || d.Job.TaskID != "task-1" {
			t.Fatalf("stale job not reclaimed: %+v", d)
		}
	})

	t.Run("delayed job is shelved once and delivered when due", func(t *testing.T) {
		q := newTestQueue(t)

		if _, err := q.Enqueue(ctx, QueueContent, Job{
			Type: JobContentFanout, TaskID: "task-1",
			NotBefore: time.Now().Add(150 * time.Millisecond),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		start := time.Now()
		d, err := q.Poll(ctx, QueueContent, time.Second)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d == nil {
			t.Fatal("due job not delivered")
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("delivered after %v, before the delay elapsed", elapsed)
		}
		if got := q.reshelves.Load(); got != 1 {
			t.Errorf("reshelves = %d, want 1 (poll must wait, not spin)", got)
		}
	})

	t.Run("nack with zero delay redelivers with attempt bumped", func(t *testing.T) {
		q := newTestQueue(t)

		if _, err := q.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "task-1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		d, err := q.Poll(ctx, QueueContent, 100*time.Millisecond)
		if err != nil || d == nil {
			t.Fatalf("poll: %v %v", d, err)
		}
		if err := q.Nack(ctx, QueueContent, d, 0); err != nil {
			t.Fatalf("nack: %v", err)
		}

		d, err = q.Poll(ctx, QueueContent, 200*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if d == nil {
			t.Fatal("nacked job not redelivered")
		}
		if d.Job.Attempt != 1 {
			t.Errorf("attempt = %d, want 1", d.Job.Attempt)
		}
	})
}

func TestWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("handler success acks", func(t *testing.T) {
		q := newTestQueue(t)

		var handled atomic.Int32
		worker := NewWorker(q, QueueContent, func(ctx context.Context, job Job) error {
			handled.Add(1)
			return nil
		}, zap.NewNop())
		worker.pollBlock = 50 * time.Millisecond

		if _, err := q.Enqueue(ctx, QueueContent, Job{Type: JobWorkflowRun, TaskID: "t"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		if err := worker.Run(runCtx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("run: %v", err)
		}

		if handled.Load() != 1 {
			t.Errorf("handled = %d, want 1", handled.Load())
		}
		depth, _ := q.Depth(ctx, QueueContent)
		if depth != 0 {
			t.Errorf("depth = %d, want 0", depth)
		}
	})

	t.Run("busy handler reschedules without burning an attempt", func(t *testing.T) {
		q := newTestQueue(t)

		var calls atomic.Int32
		var attempts []int
		worker := NewWorker(q, QueueContent, func(ctx context.Context, job Job) error {
			attempts = append(attempts, job.Attempt)
			if calls.Add(1) == 1 {
				return fmt.Errorf("task held: %w", ErrBusy)
			}
			return nil
		}, zap.NewNop())
		worker.pollBlock = 50 * time.Millisecond
		worker.busyDelay = 0

		if _, err := q.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "t"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = worker.Run(runCtx)

		if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 0 {
			t.Errorf("attempts seen = %v, want [0 0]", attempts)
		}
		depth, _ := q.Depth(ctx, QueueContent)
		if depth != 0 {
			t.Errorf("depth = %d, want 0", depth)
		}
	})

	t.Run("handler failure requeues until max attempts", func(t *testing.T) {
		q := newTestQueue(t)

		var attempts atomic.Int32
		worker := NewWorker(q, QueueContent, func(ctx context.Context, job Job) error {
			attempts.Add(1)
			return errors.New("boom")
		}, zap.NewNop())
		worker.pollBlock = 20 * time.Millisecond
		worker.maxAttempts = 2

		if _, err := q.Enqueue(ctx, QueueContent, Job{Type: JobContentFanout, TaskID: "t"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = worker.Run(runCtx)

		if got := attempts.Load(); got != 2 {
			t.Errorf("attempts = %d, want 2", got)
		}
		depth, _ := q.Depth(ctx, QueueContent)
		if depth != 0 {
			t.Errorf("dropped job still queued, depth = %d", depth)
		}
	})
}
