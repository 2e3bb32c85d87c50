package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

type createTaskRequest struct {
	UserID  string              `json:"user_id" validate:"required"`
	Request roadmap.UserRequest `json:"request"`

	// TaskID makes the submission idempotent: resubmitting with the same
	// id upserts the existing row instead of creating a second task.
	TaskID string `json:"task_id,omitempty" validate:"omitempty,uuid4"`
}

type taskResponse struct {
	roadmap.Task
	Framework *roadmap.Framework `json:"framework,omitempty"`
}

// handleCreateTask accepts a generation request: it writes the pending
// task row and enqueues the workflow run.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Request.Goal == "" {
		writeError(w, http.StatusBadRequest, "request.goal is required")
		return
	}

	ctx := r.Context()
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := &roadmap.Task{
		TaskID:      taskID,
		UserID:      req.UserID,
		TaskType:    roadmap.TaskTypeGenerate,
		UserRequest: req.Request,
		Status:      roadmap.StatusPending,
	}

	err := s.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().Upsert(ctx, task)
	})
	if err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, errStatus(err), "could not create task")
		return
	}

	externalID, err := s.queue.Enqueue(ctx, queue.QueueContent, queue.Job{
		Type:   queue.JobWorkflowRun,
		TaskID: task.TaskID,
	})
	if err != nil {
		s.logger.Error("enqueue workflow run failed",
			zap.String("task_id", task.TaskID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not queue task")
		return
	}

	err = s.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().SetQueueTask(ctx, task.TaskID, externalID)
	})
	if err != nil {
		s.logger.Warn("queue handle not recorded",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, taskResponse{Task: *task})
}

// handleGetTask returns the task row, with the framework attached once a
// roadmap exists.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	var resp taskResponse
	err := s.withScope(ctx, func(scope *repo.Scope) error {
		task, err := scope.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		resp.Task = *task

		if task.RoadmapID != "" {
			meta, err := scope.Roadmaps().Get(ctx, task.RoadmapID)
			if err == nil {
				resp.Framework = &meta.FrameworkData
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, errStatus(err), "task not found")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type reviewRequest struct {
	Decision  string             `json:"decision" validate:"required,oneof=approve reject edit"`
	Framework *roadmap.Framework `json:"framework,omitempty"`
}

// handleReview applies a human-review decision and resumes the workflow.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := chi.URLParam(r, "taskID")
	decision := roadmap.ReviewDecision(req.Decision)
	if decision == roadmap.DecisionEdit && req.Framework == nil {
		writeError(w, http.StatusBadRequest, "edit decision requires a framework")
		return
	}

	if err := s.reviews.Review(r.Context(), taskID, decision, req.Framework); err != nil {
		s.logger.Error("review failed",
			zap.String("task_id", taskID),
			zap.String("decision", req.Decision),
			zap.Error(err))
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id":  taskID,
		"decision": req.Decision,
	})
}

type retryRequest struct {
	Kinds      []roadmap.ArtifactKind `json:"kinds,omitempty" validate:"dive,oneof=tutorial resources quiz"`
	OnlyFailed *bool                  `json:"only_failed,omitempty"`
}

// handleRetry creates a retry task that fans content generation back out
// over a roadmap. By default only failed artifacts are regenerated.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	onlyFailed := true
	if req.OnlyFailed != nil {
		onlyFailed = *req.OnlyFailed
	}

	ctx := r.Context()
	roadmapID := chi.URLParam(r, "roadmapID")

	task, err := s.spawnContentTask(ctx, roadmapID, roadmap.TaskTypeRetry, queue.Job{
		Type:       queue.JobContentFanout,
		RoadmapID:  roadmapID,
		Kinds:      req.Kinds,
		OnlyFailed: onlyFailed,
	})
	if err != nil {
		s.logger.Error("retry failed", zap.String("roadmap_id", roadmapID), zap.Error(err))
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, taskResponse{Task: *task})
}

type regenerateRequest struct {
	Instructions string                 `json:"instructions" validate:"required"`
	Kinds        []roadmap.ArtifactKind `json:"kinds,omitempty" validate:"dive,oneof=tutorial resources quiz"`
}

// handleRegenerate creates a modification task for one concept. When no
// kinds are named the modification analyzer decides which artifacts the
// instructions touch.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	roadmapID := chi.URLParam(r, "roadmapID")
	conceptID := chi.URLParam(r, "conceptID")

	task, err := s.spawnContentTask(ctx, roadmapID, roadmap.TaskTypeRegenerate, queue.Job{
		Type:         queue.JobContentFanout,
		RoadmapID:    roadmapID,
		ConceptIDs:   []string{conceptID},
		Kinds:        req.Kinds,
		Instructions: req.Instructions,
	})
	if err != nil {
		s.logger.Error("regenerate failed",
			zap.String("roadmap_id", roadmapID),
			zap.String("concept_id", conceptID),
			zap.Error(err))
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, taskResponse{Task: *task})
}

// spawnContentTask validates the roadmap (and concept filter), creates the
// owning task row, and enqueues the fan-out job.
func (s *Server) spawnContentTask(ctx context.Context, roadmapID, taskType string, job queue.Job) (*roadmap.Task, error) {
	var meta *roadmap.RoadmapMetadata
	err := s.withScope(ctx, func(scope *repo.Scope) error {
		m, err := scope.Roadmaps().Get(ctx, roadmapID)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range job.ConceptIDs {
		if meta.FrameworkData.FindConcept(id) == nil {
			return nil, &repo.NotFoundError{Entity: "concept", Key: id}
		}
	}

	task := &roadmap.Task{
		TaskID:    uuid.NewString(),
		UserID:    meta.UserID,
		TaskType:  taskType,
		Status:    roadmap.StatusPending,
		RoadmapID: roadmapID,
		UserRequest: roadmap.UserRequest{
			Goal: meta.FrameworkData.Title,
		},
	}
	err = s.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().Upsert(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	job.TaskID = task.TaskID
	externalID, err := s.queue.Enqueue(ctx, queue.QueueContent, job)
	if err != nil {
		return nil, err
	}

	err = s.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().SetQueueTask(ctx, task.TaskID, externalID)
	})
	if err != nil {
		s.logger.Warn("queue handle not recorded",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
	return task, nil
}
