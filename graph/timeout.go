package graph

import (
	"context"
	"fmt"
	"time"
)

// runWithTimeout executes a node with a deadline. Expiry is surfaced as a
// Transient failure so the retry policy applies, matching the treatment of
// per-LLM-call timeouts.
//
// The node runs in its own goroutine; on timeout the result is abandoned
// and the goroutine drains into a buffered channel. Nodes must honor ctx
// cancellation to release their resources promptly.
func runWithTimeout[S any](ctx context.Context, node Node[S], state S, timeout time.Duration) NodeResult[S] {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan NodeResult[S], 1)
	go func() {
		done <- node.Run(ctx, state)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return NodeResult[S]{Err: Transient(fmt.Errorf("node execution exceeded %s", timeout))}
		}
		return NodeResult[S]{Err: NewFlowError(KindCancelled, ctx.Err())}
	}
}
