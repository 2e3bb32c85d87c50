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

// ResourceRepo persists resource-recommendation rows, keyed uniquely by
// (concept_id, roadmap_id).
type ResourceRepo struct {
	q sqlx.ExtContext
}

// Save upserts a recommendation set. A known id updates in place; a new
// id replaces whatever rows exist for the (concept, roadmap) pair.
func (r *ResourceRepo) Save(ctx context.Context, m *roadmap.ResourceRecommendationMetadata) error {
	resources, err := marshalDoc(m.Resources)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE resource_recommendation_metadata SET resources = $2 WHERE id = $1`,
		m.ID, resources)
	if err != nil {
		return fmt.Errorf("repo: update resources %s: %w", m.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: update resources %s: %w", m.ID, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM resource_recommendation_metadata
		WHERE concept_id = $1 AND roadmap_id = $2`,
		m.ConceptID, m.RoadmapID); err != nil {
		return fmt.Errorf("repo: replace resources for %s/%s: %w", m.RoadmapID, m.ConceptID, err)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO resource_recommendation_metadata (id, concept_id, roadmap_id, resources, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConceptID, m.RoadmapID, resources, m.CreatedAt); err != nil {
		return fmt.Errorf("repo: insert resources %s: %w", m.ID, err)
	}
	return nil
}

// GetByConcept reads the recommendation set for a concept.
func (r *ResourceRepo) GetByConcept(ctx context.Context, roadmapID, conceptID string) (*roadmap.ResourceRecommendationMetadata, error) {
	var m roadmap.ResourceRecommendationMetadata
	var resources []byte
	err := r.q.QueryRowxContext(ctx, `
		SELECT id, concept_id, roadmap_id, resources, created_at
		FROM resource_recommendation_metadata
		WHERE roadmap_id = $1 AND concept_id = $2`,
		roadmapID, conceptID).
		Scan(&m.ID, &m.ConceptID, &m.RoadmapID, &resources, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("resources", conceptID)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan resources: %w", err)
	}
	if err := unmarshalDoc(resources, &m.Resources); err != nil {
		return nil, err
	}
	return &m, nil
}

// QuizRepo persists quiz rows, keyed uniquely by (concept_id, roadmap_id).
type QuizRepo struct {
	q sqlx.ExtContext
}

// Save upserts a quiz. A known quiz_id updates in place; a new id replaces
// whatever rows exist for the (concept, roadmap) pair.
func (r *QuizRepo) Save(ctx context.Context, m *roadmap.QuizMetadata) error {
	questions, err := marshalDoc(m.Questions)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE quiz_metadata SET questions = $2 WHERE quiz_id = $1`,
		m.QuizID, questions)
	if err != nil {
		return fmt.Errorf("repo: update quiz %s: %w", m.QuizID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: update quiz %s: %w", m.QuizID, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM quiz_metadata WHERE concept_id = $1 AND roadmap_id = $2`,
		m.ConceptID, m.RoadmapID); err != nil {
		return fmt.Errorf("repo: replace quiz for %s/%s: %w", m.RoadmapID, m.ConceptID, err)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO quiz_metadata (quiz_id, concept_id, roadmap_id, questions, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.QuizID, m.ConceptID, m.RoadmapID, questions, m.CreatedAt); err != nil {
		return fmt.Errorf("repo: insert quiz %s: %w", m.QuizID, err)
	}
	return nil
}

// GetByConcept reads the quiz for a concept.
func (r *QuizRepo) GetByConcept(ctx context.Context, roadmapID, conceptID string) (*roadmap.QuizMetadata, error) {
	var m roadmap.QuizMetadata
	var questions []byte
	err := r.q.QueryRowxContext(ctx, `
		SELECT quiz_id, concept_id, roadmap_id, questions, created_at
		FROM quiz_metadata
		WHERE roadmap_id = $1 AND concept_id = $2`,
		roadmapID, conceptID).
		Scan(&m.QuizID, &m.ConceptID, &m.RoadmapID, &questions, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("quiz", conceptID)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan quiz: %w", err)
	}
	if err := unmarshalDoc(questions, &m.Questions); err != nil {
		return nil, err
	}
	return &m, nil
}
