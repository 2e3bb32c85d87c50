// Package openai adapts the official openai-go SDK to model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/pathweaver/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// the OpenAI chat completions API.
//
// Transient failures (rate limits, 5xx) are surfaced as raw SDK errors;
// the workflow retry policy handles them.
type ChatModel struct {
	modelName string
	client    completionClient
}

// completionClient is the slice of the SDK this adapter uses. Satisfied
// by sdkClient in production and stubbed in tests.
type completionClient interface {
	complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	stream(ctx context.Context, params openai.ChatCompletionNewParams, onDelta func(string)) (*openai.ChatCompletion, error)
}

// New creates an OpenAI adapter. endpoint overrides the API base URL for
// OpenAI-compatible gateways; empty uses the public API.
func New(apiKey, modelName, endpoint string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: &client},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.complete(ctx, m.buildParams(messages, tools))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	return convertCompletion(completion)
}

// ChatStream implements model.StreamingChatModel. Text deltas are passed
// to onDelta as they arrive; the accumulated completion is returned at
// the end of the stream.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.stream(ctx, m.buildParams(messages, tools), onDelta)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	return convertCompletion(completion)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return out
}

func convertCompletion(completion *openai.ChatCompletion) (model.ChatOut, error) {
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: response contained no choices")
	}

	choice := completion.Choices[0].Message
	out := model.ChatOut{
		Text: choice.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	for _, call := range choice.ToolCalls {
		input := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("openai: malformed tool arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

// sdkClient wraps the real SDK client.
type sdkClient struct {
	client *openai.Client
}

func (c *sdkClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

func (c *sdkClient) stream(ctx context.Context, params openai.ChatCompletionNewParams, onDelta func(string)) (*openai.ChatCompletion, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if onDelta != nil && len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				onDelta(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &acc.ChatCompletion, nil
}
