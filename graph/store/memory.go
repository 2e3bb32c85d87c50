package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S] and LeaseStore.
//
// Designed for tests and single-process development runs. Data is lost when
// the process terminates; production deployments use PostgresStore or
// SQLiteStore.
//
// MemStore is thread-safe.
type MemStore[S any] struct {
	mu     sync.RWMutex
	steps  map[string][]StepRecord[S]
	leases map[string]memLease
	now    func() time.Time
}

type memLease struct {
	workerID  string
	expiresAt time.Time
}

// NewMemStore creates an empty in-memory store. No Open call is required.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:  make(map[string][]StepRecord[S]),
		leases: make(map[string]memLease),
		now:    time.Now,
	}
}

// SaveStep appends or overwrites the checkpoint at (workflowID, seq).
func (m *MemStore[S]) SaveStep(_ context.Context, workflowID string, seq int, stepID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := StepRecord[S]{Seq: seq, StepID: stepID, State: state, CreatedAt: m.now()}
	for i, existing := range m.steps[workflowID] {
		if existing.Seq == seq {
			m.steps[workflowID][i] = record
			return nil
		}
	}
	m.steps[workflowID] = append(m.steps[workflowID], record)
	return nil
}

// LoadLatest returns the snapshot with the highest sequence number.
func (m *MemStore[S]) LoadLatest(_ context.Context, workflowID string) (S, int, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[workflowID]
	if len(records) == 0 {
		var zero S
		return zero, 0, "", ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Seq > latest.Seq {
			latest = record
		}
	}
	return latest.State, latest.Seq, latest.StepID, nil
}

// List returns all checkpoints in sequence order.
func (m *MemStore[S]) List(_ context.Context, workflowID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[workflowID]
	out := make([]StepRecord[S], len(records))
	copy(out, records)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Seq > out[j].Seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// AcquireLease implements LeaseStore.
func (m *MemStore[S]) AcquireLease(_ context.Context, workflowID, workerID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, held := m.leases[workflowID]
	if held && current.workerID != workerID && current.expiresAt.After(now) {
		return false, nil
	}
	m.leases[workflowID] = memLease{workerID: workerID, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease implements LeaseStore.
func (m *MemStore[S]) ReleaseLease(_ context.Context, workflowID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, held := m.leases[workflowID]; held && current.workerID == workerID {
		delete(m.leases, workflowID)
	}
	return nil
}

// SetClock overrides the time source. Test hook.
func (m *MemStore[S]) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
