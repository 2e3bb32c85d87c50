package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"flow error wins", Transient(errors.New("x")), KindTransient},
		{"wrapped flow error", fmt.Errorf("node failed: %w", ValidationFailure(errors.New("x"))), KindValidation},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindCancelled},
		{"connection refused", errors.New("dial tcp: connection refused"), KindTransient},
		{"rate limited", errors.New("429 too many requests"), KindTransient},
		{"server error", errors.New("upstream returned 503 service unavailable"), KindTransient},
		{"unknown defaults fatal", errors.New("invalid credentials"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFlowError(t *testing.T) {
	t.Run("unwraps to cause", func(t *testing.T) {
		cause := errors.New("root")
		err := ParseFailure(fmt.Errorf("wrapped: %w", cause))
		if !errors.Is(err, cause) {
			t.Error("FlowError did not unwrap to cause")
		}
	})

	t.Run("explicit kind survives wrapping in another kind's message", func(t *testing.T) {
		// A fatal error whose text mentions "timeout" must stay fatal.
		err := Fatal(errors.New("config timeout field is invalid"))
		if got := Classify(err); got != KindFatal {
			t.Errorf("got %q, want %q", got, KindFatal)
		}
	})
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindTransient:  true,
		KindParse:      true,
		KindValidation: false,
		KindIntegrity:  false,
		KindCancelled:  false,
		KindFatal:      false,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}
