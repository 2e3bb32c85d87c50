// Package google adapts the generative-ai-go SDK (Gemini) to
// model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dshills/pathweaver/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel and model.StreamingChatModel for
// the Gemini API.
//
// Safety filter blocks are surfaced as *SafetyFilterError so callers can
// distinguish blocked content from transport failures.
type ChatModel struct {
	apiKey    string
	modelName string
	endpoint  string

	mu     sync.Mutex
	client *genai.Client
}

// New creates a Gemini adapter. The underlying client is established
// lazily on the first call. endpoint overrides the API base URL; empty
// uses the public API.
func New(apiKey, modelName, endpoint string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName, endpoint: endpoint}
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	genModel, parts, err := m.prepare(ctx, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp)
}

// ChatStream implements model.StreamingChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	genModel, parts, err := m.prepare(ctx, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	iter := genModel.GenerateContentStream(ctx, parts...)
	out := model.ChatOut{}
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return model.ChatOut{}, fmt.Errorf("google: %w", err)
		}

		chunk, err := convertResponse(resp)
		if err != nil {
			return model.ChatOut{}, err
		}
		if onDelta != nil && chunk.Text != "" {
			onDelta(chunk.Text)
		}
		out.Text += chunk.Text
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != (model.Usage{}) {
			out.Usage = chunk.Usage
		}
	}
	return out, nil
}

// prepare lazily connects the client and builds the per-call model and
// prompt parts. System messages become the model's system instruction.
func (m *ChatModel) prepare(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (*genai.GenerativeModel, []genai.Part, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	genModel := client.GenerativeModel(m.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}

	var system string
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return genModel, parts, nil
}

func (m *ChatModel) connect(ctx context.Context) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}
	if m.apiKey == "" {
		return nil, errors.New("google: API key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(m.apiKey)}
	if m.endpoint != "" {
		opts = append(opts, option.WithEndpoint(m.endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	m.client = client
	return client, nil
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema maps a JSON Schema object to genai.Schema. Only the
// object/properties/required shape used by our tool specs is handled.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = convertType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			properties[key] = prop
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return out, &SafetyFilterError{reason: resp.PromptFeedback.BlockReason.String()}
		}
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: candidate.FinishReason.String()}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out, nil
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
// Blocked prompts are not retryable; callers check with errors.As.
type SafetyFilterError struct {
	reason string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.reason
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
