package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/pathweaver/repo"
)

// Handler processes one job. A nil return acknowledges the job; an error
// nacks it for redelivery until maxAttempts is reached.
type Handler func(ctx context.Context, job Job) error

// Worker is a poll loop over one queue. The content worker and the logs
// worker are both instances of it with different handlers.
type Worker struct {
	queue       *Queue
	queueName   string
	handler     Handler
	logger      *zap.Logger
	maxAttempts int
	pollBlock   time.Duration
	busyDelay   time.Duration
}

// NewWorker creates a worker over queueName. logger must not be nil.
func NewWorker(q *Queue, queueName string, handler Handler, logger *zap.Logger) *Worker {
	return &Worker{
		queue:       q,
		queueName:   queueName,
		handler:     handler,
		logger:      logger,
		maxAttempts: 5,
		pollBlock:   5 * time.Second,
		busyDelay:   30 * time.Second,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.String("queue", w.queueName))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping", zap.String("queue", w.queueName))
			return err
		}

		delivery, err := w.queue.Poll(ctx, w.queueName, w.pollBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Warn("poll failed", zap.String("queue", w.queueName), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, d *Delivery) {
	log := w.logger.With(
		zap.String("queue", w.queueName),
		zap.String("job_type", d.Job.Type),
		zap.String("task_id", d.Job.TaskID),
		zap.Int("attempt", d.Job.Attempt))

	err := w.handler(ctx, d.Job)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, w.queueName, d.ID); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		return
	}

	// Another worker holds the workflow: reschedule without burning an
	// attempt, so a long run elsewhere cannot exhaust the retry budget.
	if errors.Is(err, ErrBusy) {
		log.Info("job running elsewhere, rescheduling", zap.Duration("delay", w.busyDelay))
		d.Job.NotBefore = time.Now().Add(w.busyDelay)
		if reqErr := w.queue.requeue(ctx, w.queueName, d); reqErr != nil {
			log.Error("reschedule failed", zap.Error(reqErr))
		}
		return
	}

	if d.Job.Attempt+1 >= w.maxAttempts {
		log.Error("job dropped after max attempts", zap.Error(err))
		if ackErr := w.queue.Ack(ctx, w.queueName, d.ID); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		return
	}

	delay := time.Duration(d.Job.Attempt+1) * time.Second
	log.Warn("job failed, requeueing", zap.Error(err), zap.Duration("delay", delay))
	if nackErr := w.queue.Nack(ctx, w.queueName, d, delay); nackErr != nil {
		log.Error("nack failed", zap.Error(nackErr))
	}
}

// LogsHandler drains execution-log jobs into the execution_logs table.
// Other job types on the logs queue are rejected.
func LogsHandler(repos *repo.Factory) Handler {
	return func(ctx context.Context, job Job) error {
		if job.Type != JobExecutionLog || job.Log == nil {
			return errors.New("queue: logs queue received a non-log job")
		}

		scope, err := repos.Begin(ctx)
		if err != nil {
			return err
		}
		defer scope.Close()

		if err := scope.Logs().Insert(ctx, job.Log); err != nil {
			return err
		}
		return scope.Commit()
	}
}
