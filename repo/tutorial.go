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

// TutorialRepo persists TutorialMetadata rows under the version
// discipline: at most one latest row per (roadmap_id, concept_id), and
// content_version strictly increasing across versions of a concept.
type TutorialRepo struct {
	q sqlx.ExtContext
}

const tutorialColumns = `tutorial_id, concept_id, roadmap_id, content_version,
	is_latest, content_url, summary, content_status, created_at`

// Save upserts a tutorial. A known tutorial_id updates in place. A new id
// first clears is_latest on every prior row for the concept, then inserts
// the new row as latest with content_version = max(prior) + 1.
func (r *TutorialRepo) Save(ctx context.Context, t *roadmap.TutorialMetadata) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE tutorial_metadata
		SET content_url = $2, summary = $3, content_status = $4
		WHERE tutorial_id = $1`,
		t.TutorialID, t.ContentURL, t.Summary, t.ContentStatus)
	if err != nil {
		return fmt.Errorf("repo: update tutorial %s: %w", t.TutorialID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: update tutorial %s: %w", t.TutorialID, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.q.ExecContext(ctx, `
		UPDATE tutorial_metadata SET is_latest = FALSE
		WHERE roadmap_id = $1 AND concept_id = $2 AND is_latest = TRUE`,
		t.RoadmapID, t.ConceptID); err != nil {
		return fmt.Errorf("repo: clear latest tutorial for %s/%s: %w", t.RoadmapID, t.ConceptID, err)
	}

	var prior int
	row := r.q.QueryRowxContext(ctx, `
		SELECT COALESCE(MAX(content_version), 0) FROM tutorial_metadata
		WHERE roadmap_id = $1 AND concept_id = $2`,
		t.RoadmapID, t.ConceptID)
	if err := row.Scan(&prior); err != nil {
		return fmt.Errorf("repo: tutorial version for %s/%s: %w", t.RoadmapID, t.ConceptID, err)
	}

	t.ContentVersion = prior + 1
	t.IsLatest = true
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO tutorial_metadata (tutorial_id, concept_id, roadmap_id,
			content_version, is_latest, content_url, summary, content_status, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $8)`,
		t.TutorialID, t.ConceptID, t.RoadmapID, t.ContentVersion,
		t.ContentURL, t.Summary, t.ContentStatus, t.CreatedAt); err != nil {
		return fmt.Errorf("repo: insert tutorial %s: %w", t.TutorialID, err)
	}
	return nil
}

// GetLatest reads the latest tutorial for a concept.
func (r *TutorialRepo) GetLatest(ctx context.Context, roadmapID, conceptID string) (*roadmap.TutorialMetadata, error) {
	row := r.q.QueryRowxContext(ctx, `
		SELECT `+tutorialColumns+`
		FROM tutorial_metadata
		WHERE roadmap_id = $1 AND concept_id = $2 AND is_latest = TRUE`,
		roadmapID, conceptID)
	return scanTutorial(row, conceptID)
}

// Get reads one tutorial by id.
func (r *TutorialRepo) Get(ctx context.Context, tutorialID string) (*roadmap.TutorialMetadata, error) {
	row := r.q.QueryRowxContext(ctx, `
		SELECT `+tutorialColumns+`
		FROM tutorial_metadata WHERE tutorial_id = $1`, tutorialID)
	return scanTutorial(row, tutorialID)
}

// ListLatestByRoadmap returns the latest tutorial of every concept in a
// roadmap, in concept order.
func (r *TutorialRepo) ListLatestByRoadmap(ctx context.Context, roadmapID string) ([]roadmap.TutorialMetadata, error) {
	rows, err := r.q.QueryxContext(ctx, `
		SELECT `+tutorialColumns+`
		FROM tutorial_metadata
		WHERE roadmap_id = $1 AND is_latest = TRUE
		ORDER BY concept_id`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("repo: list tutorials for %s: %w", roadmapID, err)
	}
	defer rows.Close()

	var out []roadmap.TutorialMetadata
	for rows.Next() {
		t, err := scanTutorial(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTutorial(row rowScanner, key string) (*roadmap.TutorialMetadata, error) {
	var t roadmap.TutorialMetadata
	err := row.Scan(&t.TutorialID, &t.ConceptID, &t.RoadmapID, &t.ContentVersion,
		&t.IsLatest, &t.ContentURL, &t.Summary, &t.ContentStatus, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tutorial", key)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan tutorial: %w", err)
	}
	return &t, nil
}
