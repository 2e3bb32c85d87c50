package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy creates a deep copy of state S using a JSON round-trip.
//
// This works for any state type with exported, JSON-serializable fields,
// which is already a requirement for checkpointing. Pointer targets are
// copied by value, so the copy shares nothing with the original.
//
// Limitations: unexported fields are dropped, and channels or functions in
// the state will fail to marshal.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
