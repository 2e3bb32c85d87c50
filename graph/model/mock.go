package model

import (
	"context"
	"errors"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests. Responses are returned
// in order; calls are recorded for assertion.
//
// MockChatModel implements StreamingChatModel: ChatStream replays the
// response text through onDelta in fixed-size fragments before returning
// it whole.
type MockChatModel struct {
	mu        sync.Mutex
	responses []ChatOut
	errs      []error
	calls     [][]Message
	chunkSize int
}

// NewMockChatModel creates a mock that cycles through the given responses.
// When the script is exhausted the last response repeats.
func NewMockChatModel(responses ...ChatOut) *MockChatModel {
	return &MockChatModel{responses: responses, chunkSize: 16}
}

// FailWith queues an error before the scripted responses. Each queued
// error is consumed by one call.
func (m *MockChatModel) FailWith(errs ...error) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, _ []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return ChatOut{}, err
	}

	if len(m.responses) == 0 {
		return ChatOut{}, errors.New("mock chat model: no scripted responses")
	}

	out := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return out, nil
}

// ChatStream implements StreamingChatModel.
func (m *MockChatModel) ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(string)) (ChatOut, error) {
	out, err := m.Chat(ctx, messages, tools)
	if err != nil {
		return ChatOut{}, err
	}

	if onDelta != nil {
		text := out.Text
		for len(text) > 0 {
			n := m.chunkSize
			if n > len(text) {
				n = len(text)
			}
			onDelta(text[:n])
			text = text[n:]
		}
	}
	return out, nil
}

// Calls returns the recorded conversations, one per Chat call.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat calls made.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
