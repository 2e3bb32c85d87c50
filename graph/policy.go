package graph

import (
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry configuration for node failures.
//
// When a node execution fails, the engine classifies the error and consults
// the policy for that kind. Exponential backoff with jitter is used between
// attempts to avoid thundering-herd retries against a struggling dependency.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts, including
	// the initial attempt. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between
	// retries. The actual delay is min(BaseDelay * 2^attempt, MaxDelay)
	// plus jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultTransientPolicy is the policy applied to Transient failures:
// 3 attempts, 500ms base, doubling, capped at 8s.
func DefaultTransientPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// DefaultParsePolicy is the policy applied to ParseFailure: one re-prompt,
// then surface.
func DefaultParsePolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: 250 * time.Millisecond, MaxDelay: time.Second}
}

// PolicyFor returns the retry policy for an error kind. Kinds that are not
// retryable get a single-attempt policy.
func PolicyFor(kind ErrorKind) RetryPolicy {
	switch kind {
	case KindTransient:
		return DefaultTransientPolicy()
	case KindParse:
		return DefaultParsePolicy()
	}
	return RetryPolicy{MaxAttempts: 1}
}

// Validate checks the policy constraints: MaxAttempts >= 1, and when both
// delays are set, MaxDelay >= BaseDelay.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return Fatal(errInvalidRetryPolicy)
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return Fatal(errInvalidRetryPolicy)
	}
	return nil
}

var errInvalidRetryPolicy = errInvalid("invalid retry policy")

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

// computeBackoff calculates the delay before retrying a failed node
// execution using exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). Jitter randomizes retry timing
// across concurrent workflows so retries do not synchronize.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponential := base * (1 << attempt)
	if maxDelay > 0 && exponential > maxDelay {
		exponential = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponential + jitter
}
