package graph

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 500 * time.Millisecond
	max := 8 * time.Second

	t.Run("doubles per attempt up to cap", func(t *testing.T) {
		prev := time.Duration(0)
		for attempt := 0; attempt < 8; attempt++ {
			d := computeBackoff(attempt, base, max, rng)
			if d < 0 {
				t.Fatalf("attempt %d: negative backoff %s", attempt, d)
			}
			// Jitter adds at most one base delay on top of the cap.
			if d > max+base {
				t.Fatalf("attempt %d: backoff %s exceeds cap", attempt, d)
			}
			if attempt > 0 && attempt < 4 && d < prev {
				t.Errorf("attempt %d: backoff %s shrank below previous %s", attempt, d, prev)
			}
			prev = d
		}
	})

	t.Run("first attempt near base delay", func(t *testing.T) {
		d := computeBackoff(0, base, max, rng)
		if d < base || d >= 2*base {
			t.Errorf("first backoff %s outside [%s, %s)", d, base, 2*base)
		}
	})
}

func TestPolicyFor(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		p := PolicyFor(KindTransient)
		if p.MaxAttempts != 3 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 8*time.Second {
			t.Errorf("unexpected transient policy: %+v", p)
		}
	})
	t.Run("parse gets one retry", func(t *testing.T) {
		if p := PolicyFor(KindParse); p.MaxAttempts != 2 {
			t.Errorf("expected 2 attempts, got %d", p.MaxAttempts)
		}
	})
	t.Run("non-retryable kinds get one attempt", func(t *testing.T) {
		for _, kind := range []ErrorKind{KindValidation, KindIntegrity, KindCancelled, KindFatal} {
			if p := PolicyFor(kind); p.MaxAttempts != 1 {
				t.Errorf("%s: expected 1 attempt, got %d", kind, p.MaxAttempts)
			}
		}
	})
}

func TestRetryPolicyValidate(t *testing.T) {
	valid := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid policy rejected: %v", err)
	}

	invalid := []RetryPolicy{
		{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: 8 * time.Second},
		{MaxAttempts: 3, BaseDelay: -time.Second, MaxDelay: 8 * time.Second},
		{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 8 * time.Second},
	}
	for i, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: invalid policy %+v accepted", i, p)
		}
	}
}
