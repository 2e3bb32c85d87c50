package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dshills/pathweaver/roadmap"
)

// LogRepo appends execution-log rows. The table is append-only; the logs
// worker drains the logs queue into it.
type LogRepo struct {
	q sqlx.ExtContext
}

// Insert appends one log row.
func (r *LogRepo) Insert(ctx context.Context, l *roadmap.ExecutionLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO execution_logs (trace_id, level, category, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		l.TraceID, l.Level, l.Category, l.Payload, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("repo: insert log for %s: %w", l.TraceID, err)
	}
	return nil
}

// InsertBatch appends a batch of log rows in one round trip per row
// within the scope's transaction.
func (r *LogRepo) InsertBatch(ctx context.Context, logs []roadmap.ExecutionLog) error {
	for i := range logs {
		if err := r.Insert(ctx, &logs[i]); err != nil {
			return err
		}
	}
	return nil
}

// ListByTrace returns a task's log rows, newest first.
func (r *LogRepo) ListByTrace(ctx context.Context, traceID string, limit int) ([]roadmap.ExecutionLog, error) {
	rows, err := r.q.QueryxContext(ctx, `
		SELECT id, trace_id, level, category, payload, created_at
		FROM execution_logs
		WHERE trace_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, traceID, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list logs for %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []roadmap.ExecutionLog
	for rows.Next() {
		var l roadmap.ExecutionLog
		if err := rows.Scan(&l.ID, &l.TraceID, &l.Level, &l.Category, &l.Payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
