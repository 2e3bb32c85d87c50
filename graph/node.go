package graph

import "context"

// Node represents a processing unit in the workflow graph.
// It receives state of type S, performs computation, and returns a NodeResult.
//
// Each node can:
//   - Access the current state
//   - Perform computation (call LLM agents, repositories, queues)
//   - Return state modifications via Delta
//   - Override routing via Route
//   - Suspend the workflow pending external input
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	// It returns a NodeResult containing the state patch, an optional
	// routing override, and any error encountered.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
//
// Nodes return patches, not mutated state: Delta carries only the fields
// the node produced and is merged into the current state by the engine's
// reducer. This keeps runners pure and independently testable.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	Delta S

	// Route overrides the engine's router for the next hop. The zero
	// value defers to the router.
	Route Next

	// Err is the node-level error, classified by the engine's error
	// handler to decide retry vs. surface.
	Err error
}

// Next specifies the next step after a node completes.
//
// Routing modes:
//   - zero value: defer to the engine's Router
//   - Goto(id): explicit single next node
//   - Stop(): terminal, workflow complete
//   - Suspend(): checkpoint and return control to the caller; a later
//     Resume call re-enters the router
type Next struct {
	// To is the next node to execute. Mutually exclusive with Terminal
	// and Suspend.
	To string

	// Terminal indicates workflow execution should stop.
	Terminal bool

	// Suspend indicates the workflow should checkpoint its state and
	// return to the caller without terminating. Used by the human
	// review node.
	Suspend bool
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Suspend returns a Next that suspends the workflow at the current node.
func Suspend() Next {
	return Next{Suspend: true}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	validate := NodeFunc[State](func(ctx context.Context, s State) NodeResult[State] {
//	    return NodeResult[State]{Delta: State{Validated: true}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// Reducer merges a node's partial state update into the previous state.
//
// Reducers must be deterministic and total: for any (prev, delta) pair they
// return the merged state without side effects. The engine applies the
// reducer after every node and before every checkpoint save.
type Reducer[S any] func(prev, delta S) S

// Router is a pure function mapping the current state to the next step.
//
// The engine consults the router whenever a node returns a zero-valued
// Route. Routers must be total: every reachable state maps to either a
// node id or a terminal Next.
type Router[S any] func(state S) Next
