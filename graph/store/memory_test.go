package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type snap struct {
	Step  string `json:"step"`
	Count int    `json:"count"`
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load latest", func(t *testing.T) {
		st := NewMemStore[snap]()
		if err := st.SaveStep(ctx, "wf", 1, "intent_analysis", snap{Step: "intent", Count: 1}); err != nil {
			t.Fatal(err)
		}
		if err := st.SaveStep(ctx, "wf", 2, "curriculum_design", snap{Step: "curriculum", Count: 2}); err != nil {
			t.Fatal(err)
		}

		state, seq, stepID, err := st.LoadLatest(ctx, "wf")
		if err != nil {
			t.Fatal(err)
		}
		if seq != 2 || stepID != "curriculum_design" || state.Count != 2 {
			t.Errorf("got seq=%d step=%q state=%+v", seq, stepID, state)
		}
	})

	t.Run("overwrite same seq", func(t *testing.T) {
		st := NewMemStore[snap]()
		_ = st.SaveStep(ctx, "wf", 1, "a", snap{Count: 1})
		_ = st.SaveStep(ctx, "wf", 1, "a", snap{Count: 9})

		records, err := st.List(ctx, "wf")
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0].State.Count != 9 {
			t.Errorf("expected single overwritten record, got %+v", records)
		}
	})

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		st := NewMemStore[snap]()
		_, _, _, err := st.LoadLatest(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list sorted by seq", func(t *testing.T) {
		st := NewMemStore[snap]()
		_ = st.SaveStep(ctx, "wf", 3, "c", snap{})
		_ = st.SaveStep(ctx, "wf", 1, "a", snap{})
		_ = st.SaveStep(ctx, "wf", 2, "b", snap{})

		records, err := st.List(ctx, "wf")
		if err != nil {
			t.Fatal(err)
		}
		for i, want := range []int{1, 2, 3} {
			if records[i].Seq != want {
				t.Fatalf("records out of order: %+v", records)
			}
		}
	})

	t.Run("workflows are isolated", func(t *testing.T) {
		st := NewMemStore[snap]()
		_ = st.SaveStep(ctx, "wf-a", 1, "a", snap{Count: 1})
		_ = st.SaveStep(ctx, "wf-b", 1, "a", snap{Count: 2})

		state, _, _, err := st.LoadLatest(ctx, "wf-a")
		if err != nil {
			t.Fatal(err)
		}
		if state.Count != 1 {
			t.Errorf("cross-workflow leak: %+v", state)
		}
	})
}

func TestMemStoreLease(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire free lease", func(t *testing.T) {
		st := NewMemStore[snap]()
		ok, err := st.AcquireLease(ctx, "wf", "worker-1", time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire = %v, %v", ok, err)
		}
	})

	t.Run("held lease blocks other workers", func(t *testing.T) {
		st := NewMemStore[snap]()
		_, _ = st.AcquireLease(ctx, "wf", "worker-1", time.Minute)

		ok, err := st.AcquireLease(ctx, "wf", "worker-2", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("second worker acquired a held lease")
		}
	})

	t.Run("holder can reacquire", func(t *testing.T) {
		st := NewMemStore[snap]()
		_, _ = st.AcquireLease(ctx, "wf", "worker-1", time.Minute)

		ok, err := st.AcquireLease(ctx, "wf", "worker-1", time.Minute)
		if err != nil || !ok {
			t.Errorf("holder reacquire = %v, %v", ok, err)
		}
	})

	t.Run("expired lease is claimable", func(t *testing.T) {
		st := NewMemStore[snap]()
		now := time.Now()
		st.SetClock(func() time.Time { return now })
		_, _ = st.AcquireLease(ctx, "wf", "worker-1", time.Minute)

		st.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
		ok, err := st.AcquireLease(ctx, "wf", "worker-2", time.Minute)
		if err != nil || !ok {
			t.Errorf("expired lease not claimable: %v, %v", ok, err)
		}
	})

	t.Run("release frees the lease", func(t *testing.T) {
		st := NewMemStore[snap]()
		_, _ = st.AcquireLease(ctx, "wf", "worker-1", time.Minute)
		if err := st.ReleaseLease(ctx, "wf", "worker-1"); err != nil {
			t.Fatal(err)
		}

		ok, _ := st.AcquireLease(ctx, "wf", "worker-2", time.Minute)
		if !ok {
			t.Error("released lease not claimable")
		}
	})

	t.Run("release by non-holder is a no-op", func(t *testing.T) {
		st := NewMemStore[snap]()
		_, _ = st.AcquireLease(ctx, "wf", "worker-1", time.Minute)
		_ = st.ReleaseLease(ctx, "wf", "worker-2")

		ok, _ := st.AcquireLease(ctx, "wf", "worker-3", time.Minute)
		if ok {
			t.Error("lease lost to a non-holder release")
		}
	})
}
