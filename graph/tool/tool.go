// Package tool defines executable tools that agents expose to LLMs, and
// the web search implementation used during intent analysis and resource
// recommendation.
package tool

import (
	"context"

	"github.com/dshills/pathweaver/graph/model"
)

// Tool is an action the LLM can invoke mid-conversation.
//
// Implementations validate their input, respect context cancellation, and
// return structured output the LLM can read back. Tool errors do not fail
// the agent turn; they are reported to the LLM as an error result so it
// can proceed without the tool's data.
type Tool interface {
	// Name returns the unique tool identifier, lowercase with
	// underscores, matching the name the LLM sees in the spec.
	Name() string

	// Spec describes the tool and its input schema for the LLM.
	Spec() model.ToolSpec

	// Call executes the tool. input is shaped by Spec().Schema and may
	// be nil for parameterless tools.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Specs collects the LLM-facing specs of a tool set.
func Specs(tools []Tool) []model.ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]model.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
	}
	return specs
}

// ByName indexes tools for dispatching LLM tool calls.
func ByName(tools []Tool) map[string]Tool {
	out := make(map[string]Tool, len(tools))
	for _, t := range tools {
		out[t.Name()] = t
	}
	return out
}
