// Package repo is the typed data-access layer over the business database.
//
// A Factory owns the connection pool; all writes run inside a Scope, a
// thin wrapper over one transaction. Repositories never commit — the
// caller opens a scope, writes through the repositories it hands out, and
// commits or rolls back. This keeps multi-table groups atomic and makes
// rollback behavior predictable.
package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by key reads when no row matches.
var ErrNotFound = errors.New("repo: not found")

// ErrClosed is returned when the factory is used before Open.
var ErrClosed = errors.New("repo: factory not open")

// NotFoundError wraps ErrNotFound with the entity and key that missed.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repo: %s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// Config sizes the business pool. The defaults match the documented
// deployment: 50 open with 50 overflow absorbed by MaxOpenConns.
type Config struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Factory owns the business connection pool and hands out transactional
// scopes. Construction does not touch the network; call Open first.
type Factory struct {
	cfg Config
	db  *sqlx.DB
}

// NewFactory creates a factory. The pool is not opened.
func NewFactory(cfg Config) *Factory {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 50
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	return &Factory{cfg: cfg}
}

// NewFactoryWithDB wraps an already-open pool. Used by tests (sqlmock)
// and by processes that share one pool across components.
func NewFactoryWithDB(db *sqlx.DB) *Factory {
	return &Factory{db: db}
}

// Open establishes the pool and verifies connectivity.
func (f *Factory) Open(ctx context.Context) error {
	if f.db != nil {
		return nil
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", f.cfg.DSN)
	if err != nil {
		return fmt.Errorf("repo: open pool: %w", err)
	}
	db.SetMaxOpenConns(f.cfg.MaxOpenConns)
	db.SetMaxIdleConns(f.cfg.MaxIdleConns)
	if f.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(f.cfg.ConnMaxLifetime)
	}
	f.db = db
	return nil
}

// EnsureSchema creates the business tables and indices if missing. Safe
// to call on every startup.
func (f *Factory) EnsureSchema(ctx context.Context) error {
	if f.db == nil {
		return ErrClosed
	}
	if _, err := f.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repo: ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (f *Factory) Close() error {
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}

// Begin opens a transactional scope. The caller must Commit or Close it.
func (f *Factory) Begin(ctx context.Context) (*Scope, error) {
	if f.db == nil {
		return nil, ErrClosed
	}
	tx, err := f.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("repo: begin: %w", err)
	}
	return &Scope{tx: tx}, nil
}

// Scope is one transaction. Repositories obtained from a scope write
// through it and never commit; the scope's owner does.
type Scope struct {
	tx   *sqlx.Tx
	done bool
}

// Commit commits the transaction.
func (s *Scope) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Commit()
}

// Close rolls the transaction back unless it was committed. Safe to
// defer unconditionally.
func (s *Scope) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Tasks returns the task repository bound to this scope.
func (s *Scope) Tasks() *TaskRepo { return &TaskRepo{q: s.tx} }

// Roadmaps returns the roadmap-metadata repository bound to this scope.
func (s *Scope) Roadmaps() *RoadmapRepo { return &RoadmapRepo{q: s.tx} }

// Tutorials returns the tutorial-metadata repository bound to this scope.
func (s *Scope) Tutorials() *TutorialRepo { return &TutorialRepo{q: s.tx} }

// Resources returns the resource-recommendation repository bound to this
// scope.
func (s *Scope) Resources() *ResourceRepo { return &ResourceRepo{q: s.tx} }

// Quizzes returns the quiz-metadata repository bound to this scope.
func (s *Scope) Quizzes() *QuizRepo { return &QuizRepo{q: s.tx} }

// Intents returns the intent-analysis repository bound to this scope.
func (s *Scope) Intents() *IntentRepo { return &IntentRepo{q: s.tx} }

// Profiles returns the user-profile repository bound to this scope.
func (s *Scope) Profiles() *ProfileRepo { return &ProfileRepo{q: s.tx} }

// Logs returns the execution-log repository bound to this scope.
func (s *Scope) Logs() *LogRepo { return &LogRepo{q: s.tx} }
