package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/dshills/pathweaver/graph/model"
)

type stubClient struct {
	params     openai.ChatCompletionNewParams
	completion *openai.ChatCompletion
	err        error
	deltas     []string
}

func (s *stubClient) complete(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.params = params
	return s.completion, s.err
}

func (s *stubClient) stream(_ context.Context, params openai.ChatCompletionNewParams, onDelta func(string)) (*openai.ChatCompletion, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	for _, d := range s.deltas {
		onDelta(d)
	}
	return s.completion, nil
}

func textCompletion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func TestChat(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		stub := &stubClient{completion: textCompletion("hello")}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "hi"},
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "hello" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
			t.Errorf("Usage = %+v", out.Usage)
		}
	})

	t.Run("parses tool calls", func(t *testing.T) {
		stub := &stubClient{completion: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{ID: "call_1", Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      "web_search",
							Arguments: `{"query":"go generics"}`,
						}},
					},
				}},
			},
		}}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(out.ToolCalls) != 1 {
			t.Fatalf("ToolCalls = %+v", out.ToolCalls)
		}
		call := out.ToolCalls[0]
		if call.Name != "web_search" || call.Input["query"] != "go generics" {
			t.Errorf("unexpected call: %+v", call)
		}
	})

	t.Run("malformed tool arguments fail", func(t *testing.T) {
		stub := &stubClient{completion: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{Function: openai.ChatCompletionMessageToolCallFunction{Name: "t", Arguments: "{not json"}},
					},
				}},
			},
		}}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		if _, err := m.Chat(context.Background(), nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty choices fail", func(t *testing.T) {
		stub := &stubClient{completion: &openai.ChatCompletion{}}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		if _, err := m.Chat(context.Background(), nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("api errors are wrapped", func(t *testing.T) {
		cause := errors.New("429 too many requests")
		stub := &stubClient{err: cause}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		_, err := m.Chat(context.Background(), nil, nil)
		if !errors.Is(err, cause) {
			t.Errorf("error chain lost: %v", err)
		}
		if !strings.Contains(err.Error(), "openai") {
			t.Errorf("missing provider prefix: %v", err)
		}
	})

	t.Run("cancelled context short-circuits", func(t *testing.T) {
		stub := &stubClient{completion: textCompletion("x")}
		m := &ChatModel{modelName: "gpt-4o", client: stub}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
}

func TestChatStream(t *testing.T) {
	stub := &stubClient{
		completion: textCompletion("hello world"),
		deltas:     []string{"hello ", "world"},
	}
	m := &ChatModel{modelName: "gpt-4o", client: stub}

	var got []string
	out, err := m.ChatStream(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil,
		func(s string) { got = append(got, s) })
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "hello world" {
		t.Errorf("Text = %q", out.Text)
	}
	if len(got) != 2 || got[0] != "hello " {
		t.Errorf("deltas = %v", got)
	}
}

func TestBuildParams(t *testing.T) {
	stub := &stubClient{completion: textCompletion("x")}
	m := &ChatModel{modelName: "gpt-4o", client: stub}

	_, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "usr"},
		{Role: model.RoleAssistant, Content: "asst"},
	}, []model.ToolSpec{{Name: "web_search", Description: "search the web"}})
	if err != nil {
		t.Fatal(err)
	}

	if got := string(stub.params.Model); got != "gpt-4o" {
		t.Errorf("Model = %q", got)
	}
	if len(stub.params.Messages) != 3 {
		t.Errorf("Messages = %d", len(stub.params.Messages))
	}
	if len(stub.params.Tools) != 1 || stub.params.Tools[0].Function.Name != "web_search" {
		t.Errorf("Tools = %+v", stub.params.Tools)
	}
}
