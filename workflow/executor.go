package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/graph/store"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

// maxEngineSteps bounds a single Run/Resume pass. The workflow has six
// nodes and at most MaxEditCycles loops through validation/editing, so a
// legitimate run never comes close.
const maxEngineSteps = 50

// runLeaseTTL is the run lease's lifetime between renewals. Renewal runs
// at a third of it, so a crashed worker frees its workflows within the TTL
// while a live one holds them indefinitely.
const runLeaseTTL = 2 * time.Minute

// runLeaseKey namespaces run leases away from the sweeper's enqueue lease
// on the bare task id, so a freshly swept job is not stalled by it.
func runLeaseKey(taskID string) string { return "run:" + taskID }

// Executor binds the node runners onto the graph engine and owns the
// task-row side of every workflow transition: starting, resuming after
// review, finalizing, and recording failures.
type Executor struct {
	engine  *graph.Engine[State]
	deps    Deps
	runners *runners
	fanout  *fanout
}

// NewExecutor wires the workflow graph.
func NewExecutor(deps Deps) (*Executor, error) {
	deps.Config = deps.Config.normalize()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.WorkerID == "" {
		deps.WorkerID = uuid.NewString()
	}

	ex := &Executor{
		deps:    deps,
		runners: &runners{deps: deps},
		fanout:  &fanout{deps: deps},
	}

	engine := graph.New[State](Reduce, NewRouter(deps.Config), deps.Checkpoints, deps.Emitter, graph.Options{
		MaxSteps:    maxEngineSteps,
		NodeTimeout: deps.NodeTimeout,
	})
	if deps.Metrics != nil {
		engine.WithMetrics(deps.Metrics)
	}

	nodes := map[string]graph.NodeFunc[State]{
		nodeIntent:     ex.runners.intent,
		nodeCurriculum: ex.runners.curriculum,
		nodeValidation: ex.runners.validation,
		nodeEditor:     ex.runners.editor,
		nodeReview:     ex.runners.review,
		nodeContent:    ex.runners.content,
	}
	for id, fn := range nodes {
		if err := engine.Add(id, fn); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(nodeIntent); err != nil {
		return nil, err
	}
	engine.OnFailure(ex.onNodeFailure)

	ex.engine = engine
	return ex, nil
}

// Start runs the workflow for a freshly created task. A suspension (human
// review or queued content) is a normal outcome, not an error.
func (e *Executor) Start(ctx context.Context, task *roadmap.Task) error {
	initial := State{
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		RoadmapID: task.RoadmapID,
		Request:   task.UserRequest,
	}

	ctx, cancel := e.budgeted(ctx)
	defer cancel()

	final, err := e.engine.Run(ctx, task.TaskID, initial)
	return e.settle(ctx, task.TaskID, final, err)
}

// budgeted bounds one executor turn by the configured workflow budget.
func (e *Executor) budgeted(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.WorkflowBudget <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deps.WorkflowBudget)
}

// Review resumes a workflow suspended at human review. For an edit
// decision the caller supplies the revised framework, which is persisted
// and then revalidated before review comes around again.
func (e *Executor) Review(ctx context.Context, taskID string, decision roadmap.ReviewDecision, edited *roadmap.Framework) error {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("workflow: task %s is already %s", taskID, task.Status)
	}
	if task.Status != roadmap.StatusHumanReviewPending {
		return fmt.Errorf("workflow: task %s is not awaiting review (status %s)", taskID, task.Status)
	}

	prev, _, _, err := e.deps.Checkpoints.LoadLatest(ctx, taskID)
	if err != nil {
		return fmt.Errorf("workflow: load checkpoint for %s: %w", taskID, err)
	}

	var delta State
	switch decision {
	case roadmap.DecisionApprove, roadmap.DecisionReject:
		delta = State{Decision: decision, DecisionRound: prev.Edits}

	case roadmap.DecisionEdit:
		if edited == nil {
			return errors.New("workflow: edit decision requires a framework")
		}
		err := e.withScope(ctx, func(scope *repo.Scope) error {
			if err := scope.Roadmaps().UpdateFramework(ctx, prev.RoadmapID, edited); err != nil {
				return err
			}
			return scope.Tasks().UpdateStatus(ctx, taskID,
				roadmap.StatusProcessing, roadmap.StepEditing, "")
		})
		if err != nil {
			return err
		}
		round := prev.Edits + 1
		delta = State{
			Framework:     edited,
			Edits:         round,
			Decision:      decision,
			DecisionRound: round,
		}

	default:
		return fmt.Errorf("workflow: unknown review decision %q", decision)
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.WorkflowStarted()
		defer e.deps.Metrics.WorkflowFinished()
	}

	final, err := e.engine.Resume(ctx, taskID, delta)
	return e.settle(ctx, taskID, final, err)
}

// HandleJob is the content-queue worker handler. It dispatches workflow
// runs (fresh or recovered) and content fan-outs.
func (e *Executor) HandleJob(ctx context.Context, job queue.Job) error {
	ctx, cancel := e.budgeted(ctx)
	defer cancel()

	switch job.Type {
	case queue.JobWorkflowRun:
		return e.withLease(ctx, job.TaskID, func(ctx context.Context) error {
			return e.handleWorkflowRun(ctx, job)
		})
	case queue.JobContentFanout:
		return e.withLease(ctx, job.TaskID, func(ctx context.Context) error {
			return e.handleContentFanout(ctx, job)
		})
	default:
		e.deps.Logger.Warn("unknown content job type dropped",
			zap.String("type", job.Type), zap.String("task_id", job.TaskID))
		return nil
	}
}

// withLease claims the task's run lease for the duration of fn, renewing
// it in the background. Only one worker at a time may drive a workflow;
// a held lease surfaces as queue.ErrBusy so the job is rescheduled
// instead of retried.
func (e *Executor) withLease(ctx context.Context, taskID string, fn func(context.Context) error) error {
	if e.deps.Leases == nil {
		return fn(ctx)
	}
	key := runLeaseKey(taskID)

	ok, err := e.deps.Leases.AcquireLease(ctx, key, e.deps.WorkerID, runLeaseTTL)
	if err != nil {
		return graph.Transient(fmt.Errorf("acquire run lease for %s: %w", taskID, err))
	}
	if !ok {
		return fmt.Errorf("workflow: task %s: %w", taskID, queue.ErrBusy)
	}

	renewCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(runLeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if _, err := e.deps.Leases.AcquireLease(renewCtx, key, e.deps.WorkerID, runLeaseTTL); err != nil {
					e.deps.Logger.Warn("run lease renewal failed",
						zap.String("task_id", taskID), zap.Error(err))
				}
			}
		}
	}()

	err = fn(ctx)

	stop()
	<-done
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if relErr := e.deps.Leases.ReleaseLease(releaseCtx, key, e.deps.WorkerID); relErr != nil {
		e.deps.Logger.Warn("run lease release failed",
			zap.String("task_id", taskID), zap.Error(relErr))
	}
	return err
}

// handleWorkflowRun drives a task's workflow. When a checkpoint exists the
// run continues from it, which makes redelivered and sweeper-enqueued jobs
// converge on the same path.
func (e *Executor) handleWorkflowRun(ctx context.Context, job queue.Job) error {
	task, err := e.loadTask(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.deps.Logger.Warn("workflow job for unknown task dropped", zap.String("task_id", job.TaskID))
			return nil
		}
		return graph.Transient(err)
	}
	if task.Status.Terminal() {
		return nil
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.WorkflowStarted()
		defer e.deps.Metrics.WorkflowFinished()
	}

	_, _, _, err = e.deps.Checkpoints.LoadLatest(ctx, task.TaskID)
	switch {
	case err == nil:
		final, runErr := e.engine.Resume(ctx, task.TaskID, State{})
		return e.jobResult(e.settle(ctx, task.TaskID, final, runErr))

	case errors.Is(err, store.ErrNotFound):
		return e.jobResult(e.Start(ctx, task))

	default:
		return graph.Transient(fmt.Errorf("load checkpoint for %s: %w", task.TaskID, err))
	}
}

// handleContentFanout produces the roadmap's artifacts and resumes the
// parent workflow with the outcome. Retry and regeneration tasks have no
// checkpoint of their own; their outcome finalizes the task directly.
func (e *Executor) handleContentFanout(ctx context.Context, job queue.Job) error {
	task, err := e.loadTask(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.deps.Logger.Warn("fanout job for unknown task dropped", zap.String("task_id", job.TaskID))
			return nil
		}
		return graph.Transient(err)
	}
	if task.Status.Terminal() {
		return nil
	}

	roadmapID := job.RoadmapID
	if roadmapID == "" {
		roadmapID = task.RoadmapID
	}
	meta, err := e.loadRoadmap(ctx, roadmapID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.jobResult(e.failTask(ctx, task.TaskID,
				fmt.Errorf("fanout: roadmap %s not found", roadmapID)))
		}
		return graph.Transient(err)
	}

	delta, err := e.fanout.run(ctx, task, meta, job)
	if err != nil {
		if kind := graph.Classify(err); kind == graph.KindTransient || kind == graph.KindCancelled {
			return err
		}
		return e.jobResult(e.failTask(ctx, task.TaskID, err))
	}

	_, _, _, err = e.deps.Checkpoints.LoadLatest(ctx, task.TaskID)
	switch {
	case err == nil:
		final, runErr := e.engine.Resume(ctx, task.TaskID, delta)
		return e.jobResult(e.settle(ctx, task.TaskID, final, runErr))

	case errors.Is(err, store.ErrNotFound):
		// Standalone retry/regeneration task.
		return e.jobResult(e.finalize(ctx, task.TaskID, delta))

	default:
		return graph.Transient(fmt.Errorf("load checkpoint for %s: %w", task.TaskID, err))
	}
}

// settle translates an engine result into the task row. Suspension means
// the workflow is parked and the task row already reflects it.
func (e *Executor) settle(ctx context.Context, taskID string, final State, runErr error) error {
	if runErr == nil {
		return e.finalize(ctx, taskID, final)
	}
	if errors.Is(runErr, graph.ErrSuspended) {
		return nil
	}
	// The failure hook has already recorded the error on the task row.
	return runErr
}

// finalize resolves the terminal status of a completed workflow and stamps
// the task row.
func (e *Executor) finalize(ctx context.Context, taskID string, final State) error {
	status := final.Outcome
	switch {
	case status != "":
	case final.Rejected():
		status = roadmap.StatusRejected
	default:
		status = roadmap.StatusCompleted
	}

	err := e.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().UpdateStatus(ctx, taskID, status, roadmap.StepDone, "")
	})
	if err != nil {
		return graph.Transient(fmt.Errorf("finalize task %s: %w", taskID, err))
	}

	e.deps.Logger.Info("workflow finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)))
	return nil
}

// failTask marks a task failed with the error recorded on the row.
func (e *Executor) failTask(ctx context.Context, taskID string, cause error) error {
	err := e.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().UpdateStatus(ctx, taskID,
			roadmap.StatusFailed, roadmap.StepDone, cause.Error())
	})
	if err != nil {
		return graph.Transient(fmt.Errorf("record failure for %s: %w", taskID, err))
	}

	e.deps.Logger.Error("workflow failed",
		zap.String("task_id", taskID),
		zap.Error(cause))
	return nil
}

// onNodeFailure is the engine's failure hook: it stamps the task row and
// queues an execution-log entry. Cancellation leaves the row alone so the
// sweeper can recover the task from its checkpoint.
func (e *Executor) onNodeFailure(ctx context.Context, workflowID, nodeID string, _ State, kind graph.ErrorKind, cause error) {
	if kind == graph.KindCancelled {
		e.deps.Logger.Info("workflow interrupted",
			zap.String("task_id", workflowID),
			zap.String("node", nodeID))
		return
	}

	// Persist even when the run's context is gone.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := e.withScope(ctx, func(scope *repo.Scope) error {
		return scope.Tasks().UpdateStatus(ctx, workflowID,
			roadmap.StatusFailed, roadmap.Step(nodeID), cause.Error())
	})
	if err != nil {
		e.deps.Logger.Error("failed to record node failure",
			zap.String("task_id", workflowID), zap.Error(err))
	}

	if _, err := e.deps.Queue.Enqueue(ctx, queue.QueueLogs, queue.Job{
		Type:   queue.JobExecutionLog,
		TaskID: workflowID,
		Log: &roadmap.ExecutionLog{
			TraceID:  workflowID,
			Level:    "error",
			Category: "node_failed",
			Payload:  fmt.Sprintf(`{"node":%q,"kind":%q,"error":%q}`, nodeID, kind, cause.Error()),
		},
	}); err != nil {
		e.deps.Logger.Error("failed to enqueue failure log",
			zap.String("task_id", workflowID), zap.Error(err))
	}

	e.deps.Logger.Error("workflow node failed",
		zap.String("task_id", workflowID),
		zap.String("node", nodeID),
		zap.String("kind", string(kind)),
		zap.Error(cause))
}

// jobResult maps a handler error onto the queue's retry contract: only
// transient failures are redelivered, everything else is acked because the
// task row already records the failure.
func (e *Executor) jobResult(err error) error {
	if err == nil {
		return nil
	}
	if kind := graph.Classify(err); kind == graph.KindTransient || kind == graph.KindCancelled {
		return err
	}
	return nil
}

func (e *Executor) withScope(ctx context.Context, fn func(*repo.Scope) error) error {
	scope, err := e.deps.Repos.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if err := fn(scope); err != nil {
		return err
	}
	return scope.Commit()
}

func (e *Executor) loadTask(ctx context.Context, taskID string) (*roadmap.Task, error) {
	var task *roadmap.Task
	err := e.withScope(ctx, func(scope *repo.Scope) error {
		t, err := scope.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

func (e *Executor) loadRoadmap(ctx context.Context, roadmapID string) (*roadmap.RoadmapMetadata, error) {
	var meta *roadmap.RoadmapMetadata
	err := e.withScope(ctx, func(scope *repo.Scope) error {
		m, err := scope.Roadmaps().Get(ctx, roadmapID)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}
