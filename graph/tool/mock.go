package tool

import (
	"context"
	"sync"

	"github.com/dshills/pathweaver/graph/model"
)

// MockTool is a scripted Tool for tests. Responses are returned in order,
// repeating the last one when the script is exhausted; every invocation
// is recorded.
type MockTool struct {
	// ToolName is the identifier returned by Name().
	ToolName string

	// Responses is the sequence of outputs to return.
	Responses []map[string]interface{}

	// Err, when set, is returned instead of a response.
	Err error

	mu        sync.Mutex
	calls     []map[string]interface{}
	callIndex int
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.ToolName }

// Spec implements Tool.
func (m *MockTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: m.ToolName, Description: "mock tool"}
}

// Call implements Tool. The call is recorded even when Err is set.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns the recorded inputs, one per invocation.
func (m *MockTool) Calls() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of invocations.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
