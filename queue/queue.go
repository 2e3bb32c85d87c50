// Package queue is the task-distribution layer: two named redis streams,
// one for lightweight log persistence and one for LLM-bound content work.
// Delivery is at-least-once; handlers rely on the repository layer's
// idempotent upserts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/pathweaver/roadmap"
)

// ErrBusy signals that a job's workflow is already being driven by another
// worker. The worker reschedules such jobs without burning an attempt.
var ErrBusy = errors.New("queue: job is running elsewhere")

// defaultReclaimIdle must exceed the longest legitimate handler run, or a
// job still being processed gets handed to a second consumer.
const defaultReclaimIdle = 45 * time.Minute

// Queue names.
const (
	QueueLogs    = "pathweaver:logs"
	QueueContent = "pathweaver:content"
)

// cancelledSet tracks externally cancelled job ids.
const cancelledSet = "pathweaver:cancelled"

// Job types carried on the content queue.
const (
	// JobWorkflowRun drives the generation workflow for a task from its
	// start or latest checkpoint.
	JobWorkflowRun = "workflow_run"

	// JobContentFanout generates artifacts for a roadmap's concepts.
	JobContentFanout = "content_fanout"

	// JobExecutionLog appends one execution-log row. Logs-queue only.
	JobExecutionLog = "execution_log"
)

// Job is the unit of queued work.
type Job struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	RoadmapID string `json:"roadmap_id,omitempty"`

	// Kinds restricts a fan-out to specific artifact kinds; empty means
	// all kinds.
	Kinds []roadmap.ArtifactKind `json:"kinds,omitempty"`

	// ConceptIDs restricts a fan-out to specific concepts; empty means
	// every concept in the framework.
	ConceptIDs []string `json:"concept_ids,omitempty"`

	// OnlyFailed restricts a fan-out to concepts whose artifact status is
	// not completed. Set by the retry entry point.
	OnlyFailed bool `json:"only_failed,omitempty"`

	// Instructions, when set, turns a fan-out into a modification pass:
	// artifacts are revised by the modifier agents instead of generated
	// fresh.
	Instructions string `json:"instructions,omitempty"`

	// Log is the row to append for JobExecutionLog.
	Log *roadmap.ExecutionLog `json:"log,omitempty"`

	// Attempt counts deliveries, starting at 0.
	Attempt int `json:"attempt"`

	// NotBefore delays processing after a Nack.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Delivery is one polled job plus its stream handle.
type Delivery struct {
	// ID is the stream entry id; pass it to Ack.
	ID string

	Job Job
}

// Queue adapts the two named streams over one redis client. Each worker
// process creates its own Queue with a distinct consumer name.
type Queue struct {
	client   *redis.Client
	group    string
	consumer string

	// reclaimIdle is how long a pending entry may sit unacked before
	// another consumer claims it.
	reclaimIdle time.Duration

	// reshelves counts delayed-entry re-enqueues.
	reshelves atomic.Int64
}

// Config for the queue adapter.
type Config struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// ReclaimIdle is how long an unacked delivery may sit before another
	// consumer reclaims it. Must exceed the longest handler run (the
	// workflow budget for the content queue). Zero uses the default.
	ReclaimIdle time.Duration `yaml:"reclaim_idle"`
}

// New creates a queue adapter over an existing client. group identifies
// the consumer group (one per queue role); consumer must be unique per
// process.
func New(client *redis.Client, group, consumer string) *Queue {
	return &Queue{
		client:      client,
		group:       group,
		consumer:    consumer,
		reclaimIdle: defaultReclaimIdle,
	}
}

// Open connects a client from config and returns an adapter around it.
func Open(ctx context.Context, cfg Config, group, consumer string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect %s: %w", cfg.Addr, err)
	}
	q := New(client, group, consumer)
	if cfg.ReclaimIdle > 0 {
		q.reclaimIdle = cfg.ReclaimIdle
	}
	return q, nil
}

// Close releases the underlying client.
func (q *Queue) Close() error { return q.client.Close() }

// Enqueue appends a job to the named queue and returns its external id.
func (q *Queue) Enqueue(ctx context.Context, queueName string, job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queueName,
		Values: map[string]interface{}{"job": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue on %s: %w", queueName, err)
	}
	return id, nil
}

// Poll fetches the next job, blocking up to block. Returns nil when the
// wait elapsed with nothing to deliver. Cancelled and not-yet-due entries
// are skipped transparently.
func (q *Queue) Poll(ctx context.Context, queueName string, block time.Duration) (*Delivery, error) {
	if err := q.ensureGroup(ctx, queueName); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(block)
	for {
		d, err := q.next(ctx, queueName, time.Until(deadline))
		if err != nil || d == nil {
			return d, err
		}

		// Drop cancelled jobs without handing them out.
		cancelled, err := q.client.SIsMember(ctx, cancelledSet, d.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: cancellation check: %w", err)
		}
		if cancelled {
			if err := q.Ack(ctx, queueName, d.ID); err != nil {
				return nil, err
			}
			continue
		}

		// Re-shelve entries that are delayed by a Nack, then wait out
		// the delay instead of spinning on the re-shelved entry.
		if !d.Job.NotBefore.IsZero() && time.Now().Before(d.Job.NotBefore) {
			if err := q.requeue(ctx, queueName, d); err != nil {
				return nil, err
			}
			wait := time.Until(d.Job.NotBefore)
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
			if wait <= 0 {
				return nil, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		return d, nil
	}
}

// next claims a stale pending entry if one exists, else reads a new one.
func (q *Queue) next(ctx context.Context, queueName string, block time.Duration) (*Delivery, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queueName,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.reclaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: autoclaim on %s: %w", queueName, err)
	}
	if len(claimed) > 0 {
		return decodeMessage(claimed[0])
	}

	if block <= 0 {
		block = time.Millisecond
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{queueName, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read %s: %w", queueName, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return decodeMessage(streams[0].Messages[0])
}

// Ack acknowledges a delivered job.
func (q *Queue) Ack(ctx context.Context, queueName, id string) error {
	if err := q.client.XAck(ctx, queueName, q.group, id).Err(); err != nil {
		return fmt.Errorf("queue: ack %s on %s: %w", id, queueName, err)
	}
	// Trim the acked entry so the stream does not grow unbounded.
	if err := q.client.XDel(ctx, queueName, id).Err(); err != nil {
		return fmt.Errorf("queue: del %s on %s: %w", id, queueName, err)
	}
	return nil
}

// Nack returns a failed job to the queue, delayed by requeueAfter and
// with its attempt counter bumped.
func (q *Queue) Nack(ctx context.Context, queueName string, d *Delivery, requeueAfter time.Duration) error {
	job := d.Job
	job.Attempt++
	job.NotBefore = time.Now().Add(requeueAfter)

	if err := q.Ack(ctx, queueName, d.ID); err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, queueName, job); err != nil {
		return err
	}
	return nil
}

// Cancel marks an enqueued job so that Poll drops it instead of handing
// it to a worker. Jobs already being processed are unaffected.
func (q *Queue) Cancel(ctx context.Context, externalID string) error {
	if err := q.client.SAdd(ctx, cancelledSet, externalID).Err(); err != nil {
		return fmt.Errorf("queue: cancel %s: %w", externalID, err)
	}
	return nil
}

// Depth reports the number of entries currently on the queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := q.client.XLen(ctx, queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth of %s: %w", queueName, err)
	}
	return n, nil
}

// requeue puts a not-yet-due delivery back without bumping its attempt.
func (q *Queue) requeue(ctx context.Context, queueName string, d *Delivery) error {
	if err := q.Ack(ctx, queueName, d.ID); err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, queueName, d.Job); err != nil {
		return err
	}
	q.reshelves.Add(1)
	return nil
}

func (q *Queue) ensureGroup(ctx context.Context, queueName string) error {
	err := q.client.XGroupCreateMkStream(ctx, queueName, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group on %s: %w", queueName, err)
	}
	return nil
}

func decodeMessage(m redis.XMessage) (*Delivery, error) {
	raw, ok := m.Values["job"].(string)
	if !ok {
		return nil, fmt.Errorf("queue: entry %s has no job payload", m.ID)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue: decode entry %s: %w", m.ID, err)
	}
	return &Delivery{ID: m.ID, Job: job}, nil
}
