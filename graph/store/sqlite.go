package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a file-backed implementation of Store[S] and LeaseStore
// for development and single-node deployments.
//
// Uses the pure-Go modernc.org/sqlite driver, so binaries stay cgo-free.
// Like PostgresStore, construction performs no I/O; call Open first.
//
// Type parameter S is the state type to persist (JSON-serialized).
type SQLiteStore[S any] struct {
	path string

	mu  sync.RWMutex
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates an unopened store for the given database file.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore[S any](path string) *SQLiteStore[S] {
	return &SQLiteStore[S]{path: path, now: time.Now}
}

// Open establishes the connection and creates the schema if missing.
func (s *SQLiteStore[S]) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (workflow_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_leases (
			workflow_id TEXT PRIMARY KEY,
			worker_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}

	s.db = db
	return nil
}

// Close releases the connection.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore[S]) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, workflowID string, seq int, stepID string, state S) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_checkpoints (workflow_id, seq, step_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, seq) DO UPDATE SET
			step_id = excluded.step_id,
			state = excluded.state`
	if _, err := db.ExecContext(ctx, query, workflowID, seq, stepID, string(stateJSON), s.now().Unix()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, workflowID string) (S, int, string, error) {
	var zero S

	db, err := s.conn()
	if err != nil {
		return zero, 0, "", err
	}

	query := `
		SELECT seq, step_id, state
		FROM workflow_checkpoints
		WHERE workflow_id = ?
		ORDER BY seq DESC
		LIMIT 1`

	var (
		seq       int
		stepID    string
		stateJSON string
	)
	err = db.QueryRowContext(ctx, query, workflowID).Scan(&seq, &stepID, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, "", ErrNotFound
	}
	if err != nil {
		return zero, 0, "", fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return zero, 0, "", fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, seq, stepID, nil
}

// List implements Store.
func (s *SQLiteStore[S]) List(ctx context.Context, workflowID string) ([]StepRecord[S], error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT seq, step_id, state, created_at
		FROM workflow_checkpoints
		WHERE workflow_id = ?
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
			stateJSON string
			createdAt int64
		)
		if err := rows.Scan(&record.Seq, &record.StepID, &stateJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &record.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
	}
	return records, rows.Err()
}

// AcquireLease implements LeaseStore.
func (s *SQLiteStore[S]) AcquireLease(ctx context.Context, workflowID, workerID string, ttl time.Duration) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	now := s.now().Unix()
	query := `
		INSERT INTO workflow_leases (workflow_id, worker_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (workflow_id) DO UPDATE SET
			worker_id = excluded.worker_id,
			expires_at = excluded.expires_at
		WHERE workflow_leases.expires_at < ?
		   OR workflow_leases.worker_id = excluded.worker_id`

	result, err := db.ExecContext(ctx, query, workflowID, workerID, now+int64(ttl.Seconds()), now)
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
func (s *SQLiteStore[S]) ReleaseLease(ctx context.Context, workflowID, workerID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	query := `DELETE FROM workflow_leases WHERE workflow_id = ? AND worker_id = ?`
	if _, err := db.ExecContext(ctx, query, workflowID, workerID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// SetClock overrides the time source. Test hook.
func (s *SQLiteStore[S]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
