package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/blob"
	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/graph/store"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

// defaultTargetHours is assumed when neither the request nor the profile
// names a weekly time budget.
const defaultTargetHours = 5

// Enqueuer is the slice of the queue adapter the workflow needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, job queue.Job) (string, error)
}

// Deps collects everything the workflow layer is built from. Repos and
// Checkpoints must be opened before the executor runs.
type Deps struct {
	Repos       *repo.Factory
	Agents      *agent.Factory
	Queue       Enqueuer
	Blobs       blob.Store
	Checkpoints store.Store[State]
	Emitter     emit.Emitter
	Metrics     *graph.Metrics
	Logger      *zap.Logger
	Config      Config

	// Leases, when set, guard every content job behind an advisory run
	// lease so a reclaimed or duplicated delivery cannot drive a workflow
	// another worker is still running. Usually the checkpoint store.
	Leases store.LeaseStore

	// WorkerID identifies this executor for lease ownership. Empty gets a
	// random id.
	WorkerID string

	// NodeTimeout bounds each node execution. Zero means no bound.
	NodeTimeout time.Duration

	// WorkflowBudget bounds one executor turn (a Run or Resume pass,
	// including content fan-out). Zero means no bound.
	WorkflowBudget time.Duration
}

// runners hosts the node implementations. Each node returns a delta and
// persists its own result inside one scope; status transitions on the
// task row ride in the same transaction.
type runners struct {
	deps Deps
}

// withScope runs fn inside one committed transaction.
func (r *runners) withScope(ctx context.Context, fn func(*repo.Scope) error) error {
	scope, err := r.deps.Repos.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if err := fn(scope); err != nil {
		return err
	}
	return scope.Commit()
}

// intent analyzes the user request and assigns the roadmap id.
func (r *runners) intent(ctx context.Context, s State) graph.NodeResult[State] {
	ag, err := r.deps.Agents.Get(agent.KindIntentAnalyzer)
	if err != nil {
		return graph.NodeResult[State]{Err: graph.Fatal(err)}
	}

	out, err := ag.Execute(ctx, agent.Input{
		TaskID:   s.TaskID,
		Document: agent.IntentInput{Request: s.Request},
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	var intent roadmap.Intent
	if err := agent.Decode(out.Document, &intent); err != nil {
		return graph.NodeResult[State]{Err: graph.ParseFailure(err)}
	}
	if intent.Goal == "" {
		intent.Goal = s.Request.Goal
	}

	roadmapID := s.RoadmapID
	if roadmapID == "" {
		roadmapID = uuid.NewString()
	}

	err = r.withScope(ctx, func(scope *repo.Scope) error {
		if err := scope.Intents().Upsert(ctx, &roadmap.IntentAnalysisMetadata{
			TaskID: s.TaskID,
			Intent: intent,
		}); err != nil {
			return err
		}
		if err := scope.Tasks().SetRoadmap(ctx, s.TaskID, roadmapID); err != nil {
			return err
		}
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusProcessing, roadmap.StepIntentAnalysis, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	return graph.NodeResult[State]{Delta: State{Intent: &intent, RoadmapID: roadmapID}}
}

// curriculum designs the framework from the intent and the user profile.
func (r *runners) curriculum(ctx context.Context, s State) graph.NodeResult[State] {
	ag, err := r.deps.Agents.Get(agent.KindCurriculumArchitect)
	if err != nil {
		return graph.NodeResult[State]{Err: graph.Fatal(err)}
	}

	profile := s.Profile
	if profile == nil {
		profile, err = r.loadProfile(ctx, s.UserID)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
	}

	out, err := ag.Execute(ctx, agent.Input{
		TaskID:   s.TaskID,
		Document: agent.CurriculumInput{Intent: *s.Intent, Profile: profile},
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	fw, err := agent.ParseFramework(out.Text, targetHours(s.Request, profile))
	if err != nil {
		return graph.NodeResult[State]{Err: graph.ParseFailure(err)}
	}

	err = r.withScope(ctx, func(scope *repo.Scope) error {
		if err := scope.Roadmaps().Upsert(ctx, &roadmap.RoadmapMetadata{
			RoadmapID:     s.RoadmapID,
			TaskID:        s.TaskID,
			UserID:        s.UserID,
			FrameworkData: *fw,
		}); err != nil {
			return err
		}
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusProcessing, roadmap.StepCurriculumDesign, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	delta := State{Framework: fw}
	if profile != nil {
		delta.Profile = profile
	}
	return graph.NodeResult[State]{Delta: delta}
}

// validation scores the framework's structure.
func (r *runners) validation(ctx context.Context, s State) graph.NodeResult[State] {
	ag, err := r.deps.Agents.Get(agent.KindStructureValidator)
	if err != nil {
		return graph.NodeResult[State]{Err: graph.Fatal(err)}
	}

	out, err := ag.Execute(ctx, agent.Input{
		TaskID:   s.TaskID,
		Document: agent.ValidationInput{Framework: *s.Framework},
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	var verdict agent.ValidationOutput
	if err := agent.Decode(out.Document, &verdict); err != nil {
		return graph.NodeResult[State]{Err: graph.ParseFailure(err)}
	}

	err = r.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusProcessing, roadmap.StepValidation, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	r.deps.Logger.Info("framework validated",
		zap.String("task_id", s.TaskID),
		zap.Float64("score", verdict.Score),
		zap.Int("issues", len(verdict.Issues)))

	return graph.NodeResult[State]{Delta: State{
		Valid:       &verdict,
		Validations: s.Validations + 1,
	}}
}

// editor revises the framework against the validator's issues.
func (r *runners) editor(ctx context.Context, s State) graph.NodeResult[State] {
	ag, err := r.deps.Agents.Get(agent.KindRoadmapEditor)
	if err != nil {
		return graph.NodeResult[State]{Err: graph.Fatal(err)}
	}

	out, err := ag.Execute(ctx, agent.Input{
		TaskID:   s.TaskID,
		Document: agent.EditorInput{Framework: *s.Framework, Issues: s.Valid.Issues},
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	fw, err := agent.ParseFramework(out.Text, targetHours(s.Request, s.Profile))
	if err != nil {
		return graph.NodeResult[State]{Err: graph.ParseFailure(err)}
	}

	err = r.withScope(ctx, func(scope *repo.Scope) error {
		if err := scope.Roadmaps().UpdateFramework(ctx, s.RoadmapID, fw); err != nil {
			return err
		}
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusProcessing, roadmap.StepEditing, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	return graph.NodeResult[State]{Delta: State{
		Framework: fw,
		Edits:     s.Edits + 1,
	}}
}

// review parks the task for human review and suspends the workflow. An
// external Review call resumes it with the decision merged into state.
func (r *runners) review(ctx context.Context, s State) graph.NodeResult[State] {
	err := r.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusHumanReviewPending, roadmap.StepHumanReview, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	return graph.NodeResult[State]{Route: graph.Suspend()}
}

// content enqueues the fan-out job and suspends; the content worker
// resumes the workflow once every artifact is resolved. Re-entering this
// node re-enqueues, which is safe under at-least-once delivery.
func (r *runners) content(ctx context.Context, s State) graph.NodeResult[State] {
	externalID, err := r.deps.Queue.Enqueue(ctx, queue.QueueContent, queue.Job{
		Type:      queue.JobContentFanout,
		TaskID:    s.TaskID,
		RoadmapID: s.RoadmapID,
	})
	if err != nil {
		return graph.NodeResult[State]{Err: graph.Transient(fmt.Errorf("enqueue content job: %w", err))}
	}

	err = r.withScope(ctx, func(scope *repo.Scope) error {
		if err := scope.Tasks().SetQueueTask(ctx, s.TaskID, externalID); err != nil {
			return err
		}
		return scope.Tasks().UpdateStatus(ctx, s.TaskID,
			roadmap.StatusProcessing, roadmap.StepContentQueued, "")
	})
	if err != nil {
		return graph.NodeResult[State]{Err: err}
	}

	return graph.NodeResult[State]{
		Delta: State{ContentQueued: true},
		Route: graph.Suspend(),
	}
}

// loadProfile reads the user's preferences; a missing profile is not an
// error.
func (r *runners) loadProfile(ctx context.Context, userID string) (*roadmap.UserProfile, error) {
	var profile *roadmap.UserProfile
	err := r.withScope(ctx, func(scope *repo.Scope) error {
		p, err := scope.Profiles().Get(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	return profile, err
}

// targetHours resolves the weekly time budget for pacing computations.
func targetHours(req roadmap.UserRequest, profile *roadmap.UserProfile) float64 {
	if req.TargetHoursPerWeek > 0 {
		return req.TargetHoursPerWeek
	}
	if profile != nil && profile.TargetHoursPerWeek > 0 {
		return profile.TargetHoursPerWeek
	}
	return defaultTargetHours
}
