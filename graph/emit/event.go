// Package emit defines typed progress events and the emitters that carry
// them to subscribers: structured logs, OpenTelemetry spans, and the
// in-process notification bus that feeds SSE streams.
package emit

import "time"

// EventType identifies the kind of progress event.
type EventType string

// Event kinds published during workflow execution.
const (
	// NodeStarted is emitted when the engine enters a node.
	NodeStarted EventType = "node_started"

	// NodeCompleted is emitted after a node's delta has been merged and
	// checkpointed.
	NodeCompleted EventType = "node_completed"

	// NodeFailed is emitted when a node fails after exhausting its retry
	// policy. Meta carries "error" and "error_kind".
	NodeFailed EventType = "node_failed"

	// ContentChunk carries one streamed token of generated content for
	// SSE forwarding. Meta carries "concept_id" and "kind".
	ContentChunk EventType = "content_chunk"

	// ToolCall is emitted when an agent invokes a tool.
	ToolCall EventType = "tool_call"

	// ToolResult is emitted when a tool invocation returns.
	ToolResult EventType = "tool_result"

	// WorkflowCompleted is emitted once per run when the router reaches
	// the terminal step.
	WorkflowCompleted EventType = "workflow_completed"

	// WorkflowSuspended is emitted when a node suspends the workflow
	// pending external input (human review).
	WorkflowSuspended EventType = "workflow_suspended"
)

// Terminal reports whether this event type closes a progress stream. A
// workflow emits nothing after completing, suspending, or failing a node
// past its retry budget.
func (t EventType) Terminal() bool {
	return t == WorkflowCompleted || t == WorkflowSuspended || t == NodeFailed
}

// Event is a single observability event emitted during workflow execution.
//
// Subscribers are identified by WorkflowID; the task id and the workflow id
// are the same value.
type Event struct {
	// Type is the event kind.
	Type EventType `json:"type"`

	// WorkflowID identifies the workflow execution that emitted this event.
	WorkflowID string `json:"workflow_id"`

	// Seq is the sequential checkpoint number in the workflow (1-indexed).
	// Zero for workflow-level events.
	Seq int `json:"seq,omitempty"`

	// NodeID identifies which node emitted this event. Empty for
	// workflow-level events.
	NodeID string `json:"node_id,omitempty"`

	// Msg is a human-readable description.
	Msg string `json:"msg,omitempty"`

	// Meta carries additional structured data. Common keys: "error",
	// "error_kind", "duration_ms", "concept_id", "kind", "tool",
	// "checkpoint_seq".
	Meta map[string]interface{} `json:"meta,omitempty"`

	// At is the emission time.
	At time.Time `json:"at"`
}
