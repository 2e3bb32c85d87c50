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

// IntentRepo persists intent-analysis rows, one per task.
type IntentRepo struct {
	q sqlx.ExtContext
}

// Upsert saves the parsed intent for a task. A second save with the same
// task_id replaces the document.
func (r *IntentRepo) Upsert(ctx context.Context, m *roadmap.IntentAnalysisMetadata) error {
	intent, err := marshalDoc(m.Intent)
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO intent_analysis_metadata (task_id, intent, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE SET intent = EXCLUDED.intent`,
		m.TaskID, intent, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("repo: upsert intent for %s: %w", m.TaskID, err)
	}
	return nil
}

// Get reads the intent for a task.
func (r *IntentRepo) Get(ctx context.Context, taskID string) (*roadmap.IntentAnalysisMetadata, error) {
	var m roadmap.IntentAnalysisMetadata
	var intent []byte
	err := r.q.QueryRowxContext(ctx, `
		SELECT task_id, intent, created_at
		FROM intent_analysis_metadata WHERE task_id = $1`, taskID).
		Scan(&m.TaskID, &intent, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("intent", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan intent: %w", err)
	}
	if err := unmarshalDoc(intent, &m.Intent); err != nil {
		return nil, err
	}
	return &m, nil
}

// ProfileRepo persists user preference rows.
type ProfileRepo struct {
	q sqlx.ExtContext
}

// Upsert saves a user's preferences.
func (r *ProfileRepo) Upsert(ctx context.Context, p *roadmap.UserProfile) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, preferred_language, skill_level, target_hours_per_week, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_language = EXCLUDED.preferred_language,
			skill_level = EXCLUDED.skill_level,
			target_hours_per_week = EXCLUDED.target_hours_per_week,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.PreferredLanguage, p.SkillLevel, p.TargetHoursPerWeek, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repo: upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// Get reads a user's preferences.
func (r *ProfileRepo) Get(ctx context.Context, userID string) (*roadmap.UserProfile, error) {
	var p roadmap.UserProfile
	err := r.q.QueryRowxContext(ctx, `
		SELECT user_id, COALESCE(preferred_language, ''), COALESCE(skill_level, ''),
			COALESCE(target_hours_per_week, 0), updated_at
		FROM user_profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.PreferredLanguage, &p.SkillLevel, &p.TargetHoursPerWeek, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan profile: %w", err)
	}
	return &p, nil
}
