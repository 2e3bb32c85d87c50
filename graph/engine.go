package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/graph/store"
)

// Engine orchestrates checkpointed workflow execution.
//
// The Engine is the runtime that:
//   - Manages the workflow node set and the router that links them
//   - Executes nodes strictly sequentially per workflow id
//   - Merges node deltas via the reducer
//   - Checkpoints state after every node via the store
//   - Tracks the live step in the StateManager
//   - Classifies node failures and applies per-kind retry policies
//   - Supports suspension (human review) and resume-from-checkpoint
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine := graph.New(reducer, router, checkpoints, bus, graph.Options{MaxSteps: 50})
//	engine.Add("intent_analysis", intentNode)
//	engine.StartAt("intent_analysis")
//	final, err := engine.Run(ctx, taskID, initial)
//	if errors.Is(err, graph.ErrSuspended) {
//	    // wait for external review, then engine.Resume(ctx, taskID, decisionDelta)
//	}
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically.
	reducer Reducer[S]

	// router decides the next node when a node does not route explicitly.
	router Router[S]

	// nodes maps node ids to implementations.
	nodes map[string]Node[S]

	// startNode is the entry point for fresh runs.
	startNode string

	// store persists checkpoints.
	store store.Store[S]

	// states tracks the live step per workflow.
	states *StateManager

	// emitter receives progress events.
	emitter emit.Emitter

	// metrics is optional instrumentation.
	metrics *Metrics

	// onFailure is invoked after a node exhausts its retry policy,
	// before the error is returned. Used by the workflow layer to
	// update the task row and publish the failure.
	onFailure FailureHook[S]

	opts Options
}

// Options configures Engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits the number of node executions per Run/Resume call
	// to prevent infinite routing loops. If 0, no limit is enforced.
	MaxSteps int

	// NodeTimeout bounds a single node execution. Expiry surfaces as a
	// Transient failure subject to the retry policy. If 0, nodes are
	// not time-bounded by the engine.
	NodeTimeout time.Duration
}

// FailureHook observes terminal node failures. state is the last merged
// state before the failing node; kind is the classified error kind.
type FailureHook[S any] func(ctx context.Context, workflowID, nodeID string, state S, kind ErrorKind, err error)

// New creates an Engine.
//
// reducer and st are required for Run; router is required unless every node
// routes explicitly; emitter may be nil. Validation happens on Run so
// construction order stays flexible.
func New[S any](reducer Reducer[S], router Router[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer: reducer,
		router:  router,
		nodes:   make(map[string]Node[S]),
		store:   st,
		states:  NewStateManager(),
		emitter: emitter,
		opts:    opts,
	}
}

// Add registers a node. Node ids must be unique and non-empty.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return Fatal(errors.New("node ID cannot be empty"))
	}
	if node == nil {
		return Fatal(errors.New("node cannot be nil"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return Fatal(fmt.Errorf("duplicate node ID: %s", nodeID))
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for fresh runs. The node must already be
// registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return Fatal(fmt.Errorf("start node does not exist: %s", nodeID))
	}
	e.startNode = nodeID
	return nil
}

// OnFailure installs the failure hook.
func (e *Engine[S]) OnFailure(hook FailureHook[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = hook
}

// WithMetrics attaches instrumentation.
func (e *Engine[S]) WithMetrics(m *Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// LiveStep returns the node currently executing for a workflow, if any.
func (e *Engine[S]) LiveStep(workflowID string) (string, bool) {
	return e.states.Get(workflowID)
}

// Run executes the workflow from the start node until the router reaches a
// terminal step, a node suspends, or a node fails.
//
// Returns the final state. When a node suspends, the returned error is
// ErrSuspended and the state is checkpointed at the suspending node; a
// later Resume call continues from it.
func (e *Engine[S]) Run(ctx context.Context, workflowID string, initial S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}

	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	return e.execute(ctx, workflowID, initial, start, 0)
}

// Resume continues a suspended or interrupted workflow from its latest
// checkpoint. delta (typically the review decision) is merged into the
// checkpointed state before the router decides the next node.
//
// Resuming a workflow whose state routes to a terminal step is a no-op that
// returns that state. Callers are responsible for holding the workflow
// lease; the engine does not serialize executors across processes.
func (e *Engine[S]) Resume(ctx context.Context, workflowID string, delta S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}

	state, seq, _, err := e.store.LoadLatest(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, Fatal(fmt.Errorf("cannot resume %s: no checkpoint: %w", workflowID, err))
		}
		return zero, Transient(fmt.Errorf("cannot resume %s: %w", workflowID, err))
	}

	merged := e.reducer(state, delta)

	next := e.router(merged)
	if next.Terminal {
		return merged, nil
	}
	if next.To == "" {
		return zero, Fatal(fmt.Errorf("router returned no route on resume of %s", workflowID))
	}

	// Checkpoint the merged decision before re-entering the loop so a
	// crash between resume and the next node keeps the decision.
	seq++
	if err := e.saveStep(ctx, workflowID, seq, "resume", merged); err != nil {
		return zero, err
	}

	return e.execute(ctx, workflowID, merged, next.To, seq)
}

// validate checks required configuration before execution.
func (e *Engine[S]) validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.reducer == nil {
		return Fatal(errors.New("reducer is required"))
	}
	if e.store == nil {
		return Fatal(errors.New("store is required"))
	}
	if e.router == nil {
		return Fatal(errors.New("router is required"))
	}
	if e.startNode == "" {
		return Fatal(errors.New("start node not set (call StartAt before Run)"))
	}
	return nil
}

// execute is the single execution loop behind Run and Resume.
//
// Cancellation: state is checkpointed after every node, so on ctx
// cancellation the loop simply exits; the last checkpoint is the resume
// point.
func (e *Engine[S]) execute(ctx context.Context, workflowID string, state S, nodeID string, seq int) (S, error) {
	executed := 0

	for {
		executed++
		if e.opts.MaxSteps > 0 && executed > e.opts.MaxSteps {
			e.states.Clear(workflowID)
			return state, Fatal(ErrMaxStepsExceeded)
		}

		select {
		case <-ctx.Done():
			e.states.Clear(workflowID)
			return state, NewFlowError(KindCancelled, ctx.Err())
		default:
		}

		e.mu.RLock()
		node, exists := e.nodes[nodeID]
		e.mu.RUnlock()
		if !exists {
			e.states.Clear(workflowID)
			return state, Fatal(fmt.Errorf("node not found during execution: %s", nodeID))
		}

		e.states.Set(workflowID, nodeID)
		e.emit(emit.Event{
			Type: emit.NodeStarted, WorkflowID: workflowID, Seq: seq + 1, NodeID: nodeID, At: time.Now(),
		})

		started := time.Now()
		result, runErr := e.runWithRetry(ctx, workflowID, nodeID, node, state)
		duration := time.Since(started)

		if runErr != nil {
			kind := Classify(runErr)
			e.observeNode(nodeID, duration, false)
			e.emit(emit.Event{
				Type: emit.NodeFailed, WorkflowID: workflowID, Seq: seq + 1, NodeID: nodeID, At: time.Now(),
				Meta: map[string]interface{}{"error": runErr.Error(), "error_kind": string(kind)},
			})
			e.states.Clear(workflowID)

			e.mu.RLock()
			hook := e.onFailure
			e.mu.RUnlock()
			if hook != nil {
				hook(ctx, workflowID, nodeID, state, kind, runErr)
			}

			var fe *FlowError
			if errors.As(runErr, &fe) {
				return state, runErr
			}
			return state, &FlowError{Kind: kind, Node: nodeID, Err: runErr}
		}

		state = e.reducer(state, result.Delta)
		seq++

		if err := e.saveStep(ctx, workflowID, seq, nodeID, state); err != nil {
			e.states.Clear(workflowID)
			return state, err
		}

		e.observeNode(nodeID, duration, true)
		e.emit(emit.Event{
			Type: emit.NodeCompleted, WorkflowID: workflowID, Seq: seq, NodeID: nodeID, At: time.Now(),
			Meta: map[string]interface{}{"duration_ms": duration.Milliseconds()},
		})

		next := result.Route
		if next == (Next{}) {
			next = e.router(state)
		}

		switch {
		case next.Terminal:
			e.states.Clear(workflowID)
			e.emit(emit.Event{Type: emit.WorkflowCompleted, WorkflowID: workflowID, Seq: seq, At: time.Now()})
			return state, nil

		case next.Suspend:
			e.states.Clear(workflowID)
			e.emit(emit.Event{Type: emit.WorkflowSuspended, WorkflowID: workflowID, Seq: seq, NodeID: nodeID, At: time.Now()})
			return state, ErrSuspended

		case next.To != "":
			nodeID = next.To

		default:
			e.states.Clear(workflowID)
			return state, Fatal(fmt.Errorf("no valid route from node: %s", nodeID))
		}
	}
}

// runWithRetry executes one node under its timeout and applies the retry
// policy for the classified error kind. Only Transient and ParseFailure
// kinds are retried; backoff is exponential with jitter.
func (e *Engine[S]) runWithRetry(ctx context.Context, workflowID, nodeID string, node Node[S], state S) (NodeResult[S], error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		result := e.runNode(ctx, node, state)
		if result.Err == nil {
			return result, nil
		}
		lastErr = result.Err

		kind := Classify(lastErr)
		policy := PolicyFor(kind)
		if !kind.Retryable() || attempt+1 >= policy.MaxAttempts {
			return NodeResult[S]{}, lastErr
		}

		if e.metrics != nil {
			e.metrics.NodeRetried(nodeID, kind)
		}
		e.emit(emit.Event{
			Type: emit.NodeStarted, WorkflowID: workflowID, NodeID: nodeID, At: time.Now(),
			Msg:  "retrying",
			Meta: map[string]interface{}{"attempt": attempt + 1, "error_kind": string(kind)},
		})

		select {
		case <-time.After(computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, nil)):
		case <-ctx.Done():
			return NodeResult[S]{}, NewFlowError(KindCancelled, ctx.Err())
		}
	}
}

// runNode executes a node, bounded by Options.NodeTimeout when set.
func (e *Engine[S]) runNode(ctx context.Context, node Node[S], state S) NodeResult[S] {
	if e.opts.NodeTimeout <= 0 {
		return node.Run(ctx, state)
	}
	return runWithTimeout(ctx, node, state, e.opts.NodeTimeout)
}

// saveStep persists an isolated snapshot of the state.
func (e *Engine[S]) saveStep(ctx context.Context, workflowID string, seq int, stepID string, state S) error {
	snapshot, err := deepCopy(state)
	if err != nil {
		return Fatal(fmt.Errorf("failed to snapshot state: %w", err))
	}
	if err := e.store.SaveStep(ctx, workflowID, seq, stepID, snapshot); err != nil {
		return Transient(fmt.Errorf("failed to save checkpoint: %w", err))
	}
	return nil
}

func (e *Engine[S]) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine[S]) observeNode(nodeID string, d time.Duration, ok bool) {
	if e.metrics != nil {
		e.metrics.ObserveNode(nodeID, d, ok)
	}
}
