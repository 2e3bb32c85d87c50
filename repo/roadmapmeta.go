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

// RoadmapRepo persists RoadmapMetadata rows.
type RoadmapRepo struct {
	q sqlx.ExtContext
}

// Upsert inserts the roadmap or replaces its framework document.
func (r *RoadmapRepo) Upsert(ctx context.Context, m *roadmap.RoadmapMetadata) error {
	framework, err := marshalDoc(m.FrameworkData)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO roadmap_metadata (roadmap_id, task_id, user_id, framework_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (roadmap_id) DO UPDATE SET
			framework_data = EXCLUDED.framework_data,
			updated_at = EXCLUDED.updated_at`,
		m.RoadmapID, m.TaskID, m.UserID, framework, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repo: upsert roadmap %s: %w", m.RoadmapID, err)
	}
	return nil
}

// Get reads one roadmap by id.
func (r *RoadmapRepo) Get(ctx context.Context, roadmapID string) (*roadmap.RoadmapMetadata, error) {
	row := r.q.QueryRowxContext(ctx, `
		SELECT roadmap_id, task_id, user_id, framework_data, created_at, updated_at
		FROM roadmap_metadata WHERE roadmap_id = $1`, roadmapID)
	return scanRoadmap(row, roadmapID)
}

// GetByTask reads the roadmap owned by a task.
func (r *RoadmapRepo) GetByTask(ctx context.Context, taskID string) (*roadmap.RoadmapMetadata, error) {
	row := r.q.QueryRowxContext(ctx, `
		SELECT roadmap_id, task_id, user_id, framework_data, created_at, updated_at
		FROM roadmap_metadata WHERE task_id = $1`, taskID)
	return scanRoadmap(row, taskID)
}

// UpdateFramework replaces the framework document of an existing roadmap.
func (r *RoadmapRepo) UpdateFramework(ctx context.Context, roadmapID string, fw *roadmap.Framework) error {
	framework, err := marshalDoc(fw)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE roadmap_metadata SET framework_data = $2, updated_at = $3
		WHERE roadmap_id = $1`, roadmapID, framework, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repo: update framework %s: %w", roadmapID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: update framework %s: %w", roadmapID, err)
	}
	if affected == 0 {
		return notFound("roadmap", roadmapID)
	}
	return nil
}

// Delete removes a roadmap; the content tables cascade.
func (r *RoadmapRepo) Delete(ctx context.Context, roadmapID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM roadmap_metadata WHERE roadmap_id = $1`, roadmapID)
	if err != nil {
		return fmt.Errorf("repo: delete roadmap %s: %w", roadmapID, err)
	}
	return nil
}

func scanRoadmap(row rowScanner, key string) (*roadmap.RoadmapMetadata, error) {
	var m roadmap.RoadmapMetadata
	var framework []byte
	err := row.Scan(&m.RoadmapID, &m.TaskID, &m.UserID, &framework, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("roadmap", key)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan roadmap: %w", err)
	}
	if err := unmarshalDoc(framework, &m.FrameworkData); err != nil {
		return nil, err
	}
	return &m, nil
}
