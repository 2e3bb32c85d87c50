package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/graph/model"
	"github.com/dshills/pathweaver/graph/tool"
)

// maxToolTurns bounds the tool-call loop: an agent gets at most this many
// LLM turns before its output is declared unrecoverable.
const maxToolTurns = 5

// Input is the uniform input to an agent execution.
type Input struct {
	// TaskID identifies the owning workflow; used as the trace id on
	// emitted events.
	TaskID string

	// Document is the variant-specific input document. It is JSON
	// rendered into the user prompt.
	Document interface{}

	// Stream, when set, receives text fragments of the final response
	// as they arrive. Only honored when the underlying model supports
	// streaming; the tool-call phase is never streamed.
	Stream func(delta string)
}

// Output is the uniform result of an agent execution.
type Output struct {
	// Document is the recovered output document.
	Document map[string]interface{}

	// Text is the raw final response body.
	Text string

	// Usage accumulates token consumption across all turns.
	Usage model.Usage
}

// Agent is the polymorphic execution contract shared by all variants.
// Errors carry a graph.ErrorKind: provider failures surface raw (the
// engine classifies them), unrecoverable output surfaces as ParseFailure.
type Agent interface {
	Kind() Kind
	Execute(ctx context.Context, in Input) (Output, error)
}

// llmAgent is the concrete agent: one ChatModel, the variant's system
// prompt, and optionally the tool set.
type llmAgent struct {
	kind    Kind
	chat    model.ChatModel
	tools   []tool.Tool
	emitter emit.Emitter
}

// Kind implements Agent.
func (a *llmAgent) Kind() Kind { return a.kind }

// Execute implements Agent: render the input document, run the bounded
// tool loop, recover the output document.
func (a *llmAgent) Execute(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, graph.NewFlowError(graph.KindCancelled, err)
	}

	prompt, err := renderInput(in.Document)
	if err != nil {
		return Output{}, graph.Fatal(fmt.Errorf("%s: cannot render input: %w", a.kind, err))
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt(a.kind)},
		{Role: model.RoleUser, Content: prompt},
	}

	final, usage, err := a.converse(ctx, messages, in)
	if err != nil {
		return Output{}, err
	}

	doc, err := ParseDocument(final.Text)
	if err != nil {
		return Output{}, graph.ParseFailure(fmt.Errorf("%s: %w", a.kind, err))
	}

	return Output{Document: doc, Text: final.Text, Usage: usage}, nil
}

// converse runs the bounded tool loop: at most maxToolTurns LLM turns,
// exiting on the first non-tool response. Tool failures are reported back
// to the LLM as error results rather than failing the agent.
func (a *llmAgent) converse(ctx context.Context, messages []model.Message, in Input) (model.ChatOut, model.Usage, error) {
	specs := tool.Specs(a.tools)
	index := tool.ByName(a.tools)

	var usage model.Usage
	for turn := 0; turn < maxToolTurns; turn++ {
		out, err := a.call(ctx, messages, specs, in.Stream)
		if err != nil {
			return model.ChatOut{}, usage, fmt.Errorf("%s: %w", a.kind, err)
		}
		usage.InputTokens += out.Usage.InputTokens
		usage.OutputTokens += out.Usage.OutputTokens

		if len(out.ToolCalls) == 0 {
			return out, usage, nil
		}

		messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		for _, call := range out.ToolCalls {
			messages = append(messages, a.dispatch(ctx, index, call, in.TaskID))
		}
	}

	return model.ChatOut{}, usage, graph.ParseFailure(
		fmt.Errorf("%s: no final response within %d turns", a.kind, maxToolTurns))
}

// call issues one LLM turn, streaming when requested and supported.
func (a *llmAgent) call(ctx context.Context, messages []model.Message, specs []model.ToolSpec, stream func(string)) (model.ChatOut, error) {
	if stream != nil {
		if streamer, ok := a.chat.(model.StreamingChatModel); ok {
			return streamer.ChatStream(ctx, messages, specs, stream)
		}
	}
	return a.chat.Chat(ctx, messages, specs)
}

// dispatch executes one tool call and renders its result as a tool
// message for the next turn.
func (a *llmAgent) dispatch(ctx context.Context, index map[string]tool.Tool, call model.ToolCall, taskID string) model.Message {
	a.emit(emit.Event{
		Type: emit.ToolCall, WorkflowID: taskID, At: time.Now(),
		Meta: map[string]interface{}{"tool": call.Name, "agent": string(a.kind)},
	})

	var result map[string]interface{}
	impl, known := index[call.Name]
	if !known {
		result = map[string]interface{}{"error": fmt.Sprintf("unknown tool: %s", call.Name)}
	} else if out, err := impl.Call(ctx, call.Input); err != nil {
		result = map[string]interface{}{"error": err.Error()}
	} else {
		result = out
	}

	a.emit(emit.Event{
		Type: emit.ToolResult, WorkflowID: taskID, At: time.Now(),
		Meta: map[string]interface{}{"tool": call.Name, "agent": string(a.kind)},
	})

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"error":"tool result could not be serialized"}`)
	}
	return model.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("Tool %s returned:\n%s", call.Name, payload),
	}
}

func (a *llmAgent) emit(event emit.Event) {
	if a.emitter != nil {
		a.emitter.Emit(event)
	}
}

// renderInput serializes the input document into the user prompt.
func renderInput(document interface{}) (string, error) {
	if document == nil {
		return "", nil
	}
	if s, ok := document.(string); ok {
		return s, nil
	}
	raw, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
