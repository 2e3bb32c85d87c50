package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dshills/pathweaver/roadmap"
)

// terminalStatuses is inlined into guards so that no statement can move a
// task out of a terminal state.
const terminalStatuses = `('completed', 'partial_failure', 'failed', 'rejected')`

// TaskRepo persists Task rows.
type TaskRepo struct {
	q sqlx.ExtContext
}

const taskColumns = `task_id, user_id, task_type, user_request, status, current_step,
	COALESCE(roadmap_id, ''), COALESCE(queue_task_id, ''), COALESCE(error_message, ''),
	created_at, updated_at`

// Upsert inserts the task or updates its mutable fields in place. The
// conflict branch refuses to touch rows already in a terminal status.
func (r *TaskRepo) Upsert(ctx context.Context, t *roadmap.Task) error {
	request, err := marshalDoc(t.UserRequest)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, task_type, user_request, status,
			current_step, roadmap_id, queue_task_id, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			roadmap_id = COALESCE(EXCLUDED.roadmap_id, tasks.roadmap_id),
			queue_task_id = COALESCE(EXCLUDED.queue_task_id, tasks.queue_task_id),
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
		WHERE tasks.status NOT IN `+terminalStatuses,
		t.TaskID, t.UserID, t.TaskType, request, t.Status,
		t.CurrentStep, t.RoadmapID, t.QueueTaskID, t.ErrorMessage, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repo: upsert task %s: %w", t.TaskID, err)
	}
	return nil
}

// Get reads one task by id.
func (r *TaskRepo) Get(ctx context.Context, taskID string) (*roadmap.Task, error) {
	row := r.q.QueryRowxContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE task_id = $1`, taskID)
	return scanTask(row, taskID)
}

// UpdateStatus moves a task's status and step, recording an optional
// error payload. Updating a terminal task is a silent no-op; updating a
// missing task is NotFound.
func (r *TaskRepo) UpdateStatus(ctx context.Context, taskID string, status roadmap.TaskStatus, step roadmap.Step, errMsg string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE tasks SET status = $2, current_step = $3,
			error_message = NULLIF($4, ''), updated_at = $5
		WHERE task_id = $1 AND status NOT IN `+terminalStatuses,
		taskID, status, step, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repo: update task %s: %w", taskID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: update task %s: %w", taskID, err)
	}
	if affected > 0 {
		return nil
	}

	// Zero rows: either the task is terminal (fine) or missing.
	if _, err := r.Get(ctx, taskID); err != nil {
		return err
	}
	return nil
}

// SetRoadmap records the assigned roadmap id.
func (r *TaskRepo) SetRoadmap(ctx context.Context, taskID, roadmapID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE tasks SET roadmap_id = $2, updated_at = $3 WHERE task_id = $1`,
		taskID, roadmapID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repo: set roadmap on task %s: %w", taskID, err)
	}
	return nil
}

// SetQueueTask records the external queue handle for the task's job.
func (r *TaskRepo) SetQueueTask(ctx context.Context, taskID, queueTaskID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE tasks SET queue_task_id = $2, updated_at = $3 WHERE task_id = $1`,
		taskID, queueTaskID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repo: set queue task on task %s: %w", taskID, err)
	}
	return nil
}

// ListStale returns non-terminal tasks untouched since the cutoff, oldest
// first. The recovery sweeper feeds on this.
func (r *TaskRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]roadmap.Task, error) {
	rows, err := r.q.QueryxContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status NOT IN `+terminalStatuses+` AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list stale tasks: %w", err)
	}
	defer rows.Close()

	var out []roadmap.Task
	for rows.Next() {
		t, err := scanTask(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListByUser returns the user's tasks, newest first.
func (r *TaskRepo) ListByUser(ctx context.Context, userID string, limit int) ([]roadmap.Task, error) {
	rows, err := r.q.QueryxContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list tasks for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []roadmap.Task
	for rows.Next() {
		t, err := scanTask(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner, key string) (*roadmap.Task, error) {
	var t roadmap.Task
	var request []byte
	err := row.Scan(&t.TaskID, &t.UserID, &t.TaskType, &request, &t.Status,
		&t.CurrentStep, &t.RoadmapID, &t.QueueTaskID, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", key)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan task: %w", err)
	}
	if err := unmarshalDoc(request, &t.UserRequest); err != nil {
		return nil, err
	}
	return &t, nil
}
