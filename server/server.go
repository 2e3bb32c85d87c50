// Package server is the HTTP façade: task submission, status reads, the
// SSE progress stream, review decisions, and the content retry and
// regeneration entry points. Handlers validate input, write the task row,
// and enqueue; all heavy work happens in the workers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

// Enqueuer is the slice of the queue adapter the server needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, job queue.Job) (string, error)
}

// Reviewer resumes a workflow suspended at human review. Implemented by
// workflow.Executor.
type Reviewer interface {
	Review(ctx context.Context, taskID string, decision roadmap.ReviewDecision, edited *roadmap.Framework) error
}

// Config tunes the HTTP surface.
type Config struct {
	Addr string `yaml:"addr"`

	// AllowedOrigins is the CORS allow-list. Empty allows none.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SSEHeartbeat is the keep-alive interval on event streams.
	SSEHeartbeat time.Duration `yaml:"sse_heartbeat"`
}

// Server wires the handlers over their dependencies.
type Server struct {
	cfg      Config
	repos    *repo.Factory
	queue    Enqueuer
	reviews  Reviewer
	bus      *emit.Bus
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates the server. bus may be nil, which disables event streams.
func New(cfg Config, repos *repo.Factory, q Enqueuer, reviews Reviewer, bus *emit.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = 15 * time.Second
	}
	return &Server{
		cfg:      cfg,
		repos:    repos,
		queue:    q,
		reviews:  reviews,
		bus:      bus,
		logger:   logger,
		validate: validator.New(),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/{taskID}", s.handleGetTask)
		r.Get("/{taskID}/events", s.handleEvents)
		r.Post("/{taskID}/review", s.handleReview)
	})

	r.Route("/roadmaps", func(r chi.Router) {
		r.Post("/{roadmapID}/retry", s.handleRetry)
		r.Post("/{roadmapID}/concepts/{conceptID}/regenerate", s.handleRegenerate)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON request body.
func (s *Server) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

// withScope runs fn inside one committed transaction.
func (s *Server) withScope(ctx context.Context, fn func(*repo.Scope) error) error {
	scope, err := s.repos.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if err := fn(scope); err != nil {
		return err
	}
	return scope.Commit()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps repository and validation errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
