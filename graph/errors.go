// Package graph provides the workflow execution engine: nodes, router,
// checkpointed state, error taxonomy and retry policy.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrSuspended is returned by Engine.Run and Engine.Resume when a node
// suspends the workflow (human review). The returned state is checkpointed;
// a later Resume call continues from it.
var ErrSuspended = errors.New("workflow suspended")

// ErrMaxStepsExceeded indicates that execution reached the maximum allowed
// step count without completing. This prevents infinite routing loops.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrorKind classifies a failure for the retry/surface decision.
//
// The kinds and their handling:
//
//	Transient   - network timeouts, pool exhaustion, dependency 5xx; retried
//	              with exponential backoff up to 3 attempts.
//	Parse       - LLM output could not be recovered by any parse strategy;
//	              retried once with a re-prompt, then surfaced.
//	Validation  - agent returned a structurally invalid document; surfaced
//	              immediately, never retried.
//	Integrity   - unique constraint violation at upsert; converted to an
//	              update by the repository layer and never propagated here.
//	Cancelled   - caller or sweeper cancelled; the workflow checkpoints its
//	              current state and exits without retry.
//	Fatal       - programmer error or unrecoverable condition; no retry, the
//	              task is marked failed.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindParse      ErrorKind = "parse_failure"
	KindValidation ErrorKind = "validation_failure"
	KindIntegrity  ErrorKind = "integrity"
	KindCancelled  ErrorKind = "cancelled"
	KindFatal      ErrorKind = "fatal"
)

// FlowError is a classified workflow failure. Node runners and agents wrap
// their errors in a FlowError so the engine can apply the right retry
// policy without string matching.
type FlowError struct {
	// Kind drives the retry/surface decision.
	Kind ErrorKind

	// Node identifies the workflow node that failed, when known.
	Node string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: node %s: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError wraps err with a kind. A nil err returns nil.
func NewFlowError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &FlowError{Kind: kind, Err: err}
}

// Transient wraps err as a retryable transient failure.
func Transient(err error) error { return NewFlowError(KindTransient, err) }

// ParseFailure wraps err as an unrecoverable-output failure.
func ParseFailure(err error) error { return NewFlowError(KindParse, err) }

// ValidationFailure wraps err as a structurally-invalid-document failure.
func ValidationFailure(err error) error { return NewFlowError(KindValidation, err) }

// Fatal wraps err as an unrecoverable failure.
func Fatal(err error) error { return NewFlowError(KindFatal, err) }

// Classify maps an arbitrary error to its ErrorKind.
//
// Classification order:
//  1. nil -> "" (no kind)
//  2. an explicit FlowError anywhere in the chain wins
//  3. context cancellation and deadline expiry -> Cancelled
//  4. net.Error timeouts and common transient patterns -> Transient
//  5. everything else -> Fatal
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return KindTransient
		}
	}

	return KindFatal
}

// transientPatterns are substrings of dependency errors that indicate a
// retryable condition. Matching mirrors the LLM provider adapters, which
// see these as raw API error strings.
var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary",
	"too many connections",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// Retryable reports whether an error of this kind may be retried at all.
// The number of attempts is decided by the RetryPolicy for the kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindParse:
		return true
	}
	return false
}
