package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultCheckpointPoolSize is the connection budget for the checkpoint
// store, kept separate from (and much smaller than) the business pool.
const DefaultCheckpointPoolSize = 10

// PostgresStore is the production implementation of Store[S] and
// LeaseStore backed by PostgreSQL.
//
// The store owns its own connection pool, distinct from the business pool,
// so checkpoint writes never compete with repository transactions for
// connections. The constructor performs no I/O: call Open before use.
//
// Schema:
//   - workflow_checkpoints: append-only state snapshots
//   - workflow_leases: advisory executor leases with TTL
//
// Type parameter S is the state type to persist (JSON-serialized).
type PostgresStore[S any] struct {
	dsn      string
	poolSize int

	mu sync.RWMutex
	db *sql.DB
}

// NewPostgresStore creates an unopened store for the given DSN. poolSize
// caps open connections; non-positive values use
// DefaultCheckpointPoolSize.
//
// Constructors that open pools are forbidden here: opening is an explicit
// lifecycle step so that process startup controls when connections appear.
func NewPostgresStore[S any](dsn string, poolSize int) *PostgresStore[S] {
	if poolSize <= 0 {
		poolSize = DefaultCheckpointPoolSize
	}
	return &PostgresStore[S]{dsn: dsn, poolSize: poolSize}
}

// Open establishes the connection pool, verifies connectivity and creates
// the schema if missing. Safe to call once per process.
func (p *PostgresStore[S]) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint pool: %w", err)
	}
	db.SetMaxOpenConns(p.poolSize)
	db.SetMaxIdleConns(p.poolSize / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping checkpoint database: %w", err)
	}

	if err := createPostgresSchema(ctx, db); err != nil {
		db.Close()
		return err
	}

	p.db = db
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore[S]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func createPostgresSchema(ctx context.Context, db *sql.DB) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id BIGSERIAL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			seq INT NOT NULL,
			step_id TEXT NOT NULL,
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (workflow_id, seq)
		)`
	if _, err := db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create workflow_checkpoints table: %w", err)
	}

	leases := `
		CREATE TABLE IF NOT EXISTS workflow_leases (
			workflow_id TEXT PRIMARY KEY,
			worker_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := db.ExecContext(ctx, leases); err != nil {
		return fmt.Errorf("failed to create workflow_leases table: %w", err)
	}
	return nil
}

// conn returns the pool or ErrClosed.
func (p *PostgresStore[S]) conn() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrClosed
	}
	return p.db, nil
}

// SaveStep implements Store. Replaying the same (workflowID, seq) after a
// crash overwrites the earlier snapshot.
func (p *PostgresStore[S]) SaveStep(ctx context.Context, workflowID string, seq int, stepID string, state S) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_checkpoints (workflow_id, seq, step_id, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, seq) DO UPDATE SET
			step_id = EXCLUDED.step_id,
			state = EXCLUDED.state`
	if _, err := db.ExecContext(ctx, query, workflowID, seq, stepID, stateJSON); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (p *PostgresStore[S]) LoadLatest(ctx context.Context, workflowID string) (S, int, string, error) {
	var zero S

	db, err := p.conn()
	if err != nil {
		return zero, 0, "", err
	}

	query := `
		SELECT seq, step_id, state
		FROM workflow_checkpoints
		WHERE workflow_id = $1
		ORDER BY seq DESC
		LIMIT 1`

	var (
		seq       int
		stepID    string
		stateJSON []byte
	)
	err = db.QueryRowContext(ctx, query, workflowID).Scan(&seq, &stepID, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, "", ErrNotFound
	}
	if err != nil {
		return zero, 0, "", fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	var state S
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return zero, 0, "", fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, seq, stepID, nil
}

// List implements Store.
func (p *PostgresStore[S]) List(ctx context.Context, workflowID string) ([]StepRecord[S], error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT seq, step_id, state, created_at
		FROM workflow_checkpoints
		WHERE workflow_id = $1
		ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []StepRecord[S]
	for rows.Next() {
		var (
			record    StepRecord[S]
			stateJSON []byte
		)
		if err := rows.Scan(&record.Seq, &record.StepID, &stateJSON, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &record.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// AcquireLease implements LeaseStore. The upsert relies on the primary key
// to serialize concurrent claims; an expired or self-held lease is
// reclaimed in place.
func (p *PostgresStore[S]) AcquireLease(ctx context.Context, workflowID, workerID string, ttl time.Duration) (bool, error) {
	db, err := p.conn()
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO workflow_leases (workflow_id, worker_id, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (workflow_id) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			expires_at = EXCLUDED.expires_at
		WHERE workflow_leases.expires_at < now()
		   OR workflow_leases.worker_id = EXCLUDED.worker_id`

	result, err := db.ExecContext(ctx, query, workflowID, workerID, fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLease implements LeaseStore.
func (p *PostgresStore[S]) ReleaseLease(ctx context.Context, workflowID, workerID string) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	query := `DELETE FROM workflow_leases WHERE workflow_id = $1 AND worker_id = $2`
	if _, err := db.ExecContext(ctx, query, workflowID, workerID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
