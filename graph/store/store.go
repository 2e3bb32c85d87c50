// Package store provides checkpoint persistence for workflow state and the
// advisory leases that prevent two executors from driving the same workflow.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested workflow has no checkpoints.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has not been opened
// or has been closed.
var ErrClosed = errors.New("store is closed")

// Store persists workflow state snapshots as an append-only log keyed by
// (workflow id, sequence number). Serialization is opaque to the engine.
//
// Backing-store contract: implementations pool their connections separately
// from the business database (default budget 10) and must be opened
// explicitly via Open — constructors never touch the network.
//
// Type parameter S is the state type to persist; it must be
// JSON-serializable.
type Store[S any] interface {
	// SaveStep appends the state snapshot taken after a node execution.
	//
	// seq is the 1-indexed checkpoint number within the workflow and
	// stepID names the node that produced the state. Saving the same
	// (workflowID, seq) twice overwrites; resume after a crash may
	// legitimately replay the last step.
	SaveStep(ctx context.Context, workflowID string, seq int, stepID string, state S) error

	// LoadLatest retrieves the most recent snapshot for a workflow,
	// returning the state, its sequence number and the step id it was
	// taken at. Returns ErrNotFound if the workflow has no checkpoints.
	LoadLatest(ctx context.Context, workflowID string) (state S, seq int, stepID string, err error)

	// List returns every checkpoint of a workflow in sequence order.
	List(ctx context.Context, workflowID string) ([]StepRecord[S], error)
}

// StepRecord is a single entry of the checkpoint log.
type StepRecord[S any] struct {
	// Seq is the 1-indexed checkpoint number.
	Seq int

	// StepID names the node that produced this state.
	StepID string

	// State is the snapshot taken after the node's delta was merged.
	State S

	// CreatedAt is the persistence time.
	CreatedAt time.Time
}

// LeaseStore grants advisory TTL-bounded claims on a workflow id. The
// recovery sweeper acquires a lease before re-enqueueing a stuck workflow
// so that no two executors run it concurrently. A lease whose TTL has
// expired may be reclaimed by any worker.
type LeaseStore interface {
	// AcquireLease claims workflowID for workerID until now+ttl. It
	// returns true when the claim succeeded: the workflow was unleased,
	// the existing lease expired, or workerID already holds it (renewal).
	AcquireLease(ctx context.Context, workflowID, workerID string, ttl time.Duration) (bool, error)

	// ReleaseLease drops workerID's claim. Releasing a lease held by a
	// different worker is a no-op.
	ReleaseLease(ctx context.Context, workflowID, workerID string) error
}
