// Package anthropic adapts the official anthropic-sdk-go to
// model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/pathweaver/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// defaultMaxTokens bounds response length. Tutorial generation produces
// the longest documents in the system; 8k tokens covers them.
const defaultMaxTokens = 8192

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// the Anthropic Messages API.
//
// The Messages API takes the system prompt as a separate parameter, so
// system messages are extracted from the conversation before the call.
type ChatModel struct {
	modelName string
	client    messagesClient
}

// messagesClient is the slice of the SDK this adapter uses. Satisfied by
// sdkClient in production and stubbed in tests.
type messagesClient interface {
	create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	stream(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*anthropic.Message, error)
}

// New creates an Anthropic adapter. endpoint overrides the API base URL;
// empty uses the public API.
func New(apiKey, modelName, endpoint string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := anthropic.NewClient(opts...)

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

	message, err := m.client.create(ctx, m.buildParams(messages, tools))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertMessage(message)
}

// ChatStream implements model.StreamingChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	message, err := m.client.stream(ctx, m.buildParams(messages, tools), onDelta)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertMessage(message)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) anthropic.MessageNewParams {
	system, conversation := splitSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
		Messages:  convertMessages(conversation),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

// splitSystemPrompt separates system messages from the conversation.
// Multiple system messages are concatenated in order.
func splitSystemPrompt(messages []model.Message) (string, []model.Message) {
	var system string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return system, conversation
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := tool.Schema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := tool.Schema["required"].([]string); ok {
			schema.Required = required
		}

		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
			},
		}
	}
	return out
}

func convertMessage(message *anthropic.Message) (model.ChatOut, error) {
	out := model.ChatOut{
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}

	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += b.Text

		case anthropic.ToolUseBlock:
			input := map[string]interface{}{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: malformed tool input for %s: %w", b.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	return out, nil
}

// sdkClient wraps the real SDK client.
type sdkClient struct {
	client *anthropic.Client
}

func (c *sdkClient) create(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}

func (c *sdkClient) stream(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*anthropic.Message, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, err
		}
		if onDelta == nil {
			continue
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				onDelta(text.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}
