// Package sweep recovers stuck workflows. Tasks that are neither terminal
// nor recently touched are re-enqueued from their latest checkpoint; tasks
// with no checkpoint at all cannot be recovered and are failed. An
// advisory lease per task keeps concurrent sweepers from double-enqueueing.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/graph/store"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
	"github.com/dshills/pathweaver/workflow"
)

// Config tunes the sweeper.
type Config struct {
	// Enable turns the periodic sweep on. A disabled sweeper still allows
	// manual Sweep calls.
	Enable bool `yaml:"enable"`

	// Interval between sweeps. Zero disables the loop after the startup
	// sweep.
	Interval time.Duration `yaml:"interval"`

	// MaxAge is how long a non-terminal task may go untouched before it
	// counts as stuck.
	MaxAge time.Duration `yaml:"max_age"`

	// Limit caps the tasks examined per sweep, oldest first.
	Limit int `yaml:"limit"`

	// LeaseTTL is how long a swept task stays claimed. It should exceed
	// the sweep interval of any competing sweeper.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

func (c Config) normalize() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.Limit <= 0 {
		c.Limit = 100
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
	return c
}

// Enqueuer is the slice of the queue adapter the sweeper needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, job queue.Job) (string, error)
}

// Sweeper scans for stuck tasks and re-enqueues them.
type Sweeper struct {
	cfg         Config
	repos       *repo.Factory
	queue       Enqueuer
	checkpoints store.Store[workflow.State]
	leases      store.LeaseStore
	logger      *zap.Logger
	workerID    string
	now         func() time.Time
}

// New creates a sweeper. checkpoints and leases are usually the same
// backing store.
func New(cfg Config, repos *repo.Factory, q Enqueuer, checkpoints store.Store[workflow.State], leases store.LeaseStore, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cfg:         cfg.normalize(),
		repos:       repos,
		queue:       q,
		checkpoints: checkpoints,
		leases:      leases,
		logger:      logger,
		workerID:    "sweeper-" + uuid.NewString(),
		now:         time.Now,
	}
}

// Run performs a startup sweep and then sweeps on the configured interval
// until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("startup sweep failed", zap.Error(err))
	}
	if s.cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass and returns the number of tasks re-enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)

	stale, err := s.listStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var recovered int
	for i := range stale {
		task := &stale[i]

		ok, err := s.leases.AcquireLease(ctx, task.TaskID, s.workerID, s.cfg.LeaseTTL)
		if err != nil {
			s.logger.Error("lease acquisition failed",
				zap.String("task_id", task.TaskID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		if err := s.recover(ctx, task); err != nil {
			s.logger.Error("recovery failed",
				zap.String("task_id", task.TaskID), zap.Error(err))
			continue
		}
		recovered++
	}

	s.logger.Info("sweep finished",
		zap.Int("stale", len(stale)),
		zap.Int("recovered", recovered))
	return recovered, nil
}

// recover re-enqueues one stuck task, or fails it when there is nothing to
// resume from.
func (s *Sweeper) recover(ctx context.Context, task *roadmap.Task) error {
	_, _, _, err := s.checkpoints.LoadLatest(ctx, task.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		// Never checkpointed: the workflow died before its first node.
		return s.withScope(ctx, func(scope *repo.Scope) error {
			return scope.Tasks().UpdateStatus(ctx, task.TaskID,
				roadmap.StatusFailed, task.CurrentStep,
				"unrecoverable: no checkpoint")
		})
	}
	if err != nil {
		return fmt.Errorf("sweep: load checkpoint for %s: %w", task.TaskID, err)
	}

	externalID, err := s.queue.Enqueue(ctx, queue.QueueContent, queue.Job{
		Type:   queue.JobWorkflowRun,
		TaskID: task.TaskID,
	})
	if err != nil {
		return fmt.Errorf("sweep: enqueue %s: %w", task.TaskID, err)
	}

	s.logger.Info("stuck task re-enqueued",
		zap.String("task_id", task.TaskID),
		zap.String("status", string(task.Status)),
		zap.String("step", string(task.CurrentStep)))

	return s.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().SetQueueTask(ctx, task.TaskID, externalID)
	})
}

func (s *Sweeper) listStale(ctx context.Context, cutoff time.Time) ([]roadmap.Task, error) {
	scope, err := s.repos.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()
	return scope.Tasks().ListStale(ctx, cutoff, s.cfg.Limit)
}

func (s *Sweeper) withScope(ctx context.Context, fn func(*repo.Scope) error) error {
	scope, err := s.repos.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if err := fn(scope); err != nil {
		return err
	}
	return scope.Commit()
}
