package graph

import "sync"

// StateManager is the process-local registry of live workflow steps:
// workflow id -> the node currently executing.
//
// It answers "what is running right now", which is distinct from "where was
// this workflow last checkpointed" (the store answers that). The registry is
// not persisted; after a crash it is rebuilt implicitly as workflows resume.
type StateManager struct {
	mu   sync.RWMutex
	live map[string]string
}

// NewStateManager creates an empty registry.
func NewStateManager() *StateManager {
	return &StateManager{live: make(map[string]string)}
}

// Set records the node currently executing for a workflow.
func (s *StateManager) Set(workflowID, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[workflowID] = nodeID
}

// Get returns the live node for a workflow and whether one is registered.
func (s *StateManager) Get(workflowID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.live[workflowID]
	return node, ok
}

// Clear removes the live entry for a workflow. Called when a workflow
// completes, suspends, or fails.
func (s *StateManager) Clear(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, workflowID)
}
