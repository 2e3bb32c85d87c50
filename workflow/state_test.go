package workflow

import (
	"testing"

	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/roadmap"
)

func TestReduce(t *testing.T) {
	t.Run("non-zero scalars win", func(t *testing.T) {
		prev := State{TaskID: "t1", RoadmapID: "rm-1"}
		out := Reduce(prev, State{RoadmapID: "rm-2"})
		if out.TaskID != "t1" {
			t.Errorf("TaskID = %s", out.TaskID)
		}
		if out.RoadmapID != "rm-2" {
			t.Errorf("RoadmapID = %s", out.RoadmapID)
		}

		out = Reduce(out, State{})
		if out.RoadmapID != "rm-2" {
			t.Errorf("zero delta cleared RoadmapID: %s", out.RoadmapID)
		}
	})

	t.Run("counters take the maximum", func(t *testing.T) {
		prev := State{Edits: 2, Validations: 3}
		out := Reduce(prev, State{Edits: 1, Validations: 4})
		if out.Edits != 2 {
			t.Errorf("Edits = %d, want 2", out.Edits)
		}
		if out.Validations != 4 {
			t.Errorf("Validations = %d, want 4", out.Validations)
		}
	})

	t.Run("booleans latch", func(t *testing.T) {
		out := Reduce(State{ContentQueued: true}, State{})
		if !out.ContentQueued {
			t.Error("ContentQueued unlatched")
		}
		out = Reduce(out, State{ContentDone: true})
		if !out.ContentQueued || !out.ContentDone {
			t.Errorf("flags = %v/%v", out.ContentQueued, out.ContentDone)
		}
	})

	t.Run("pointers replace only when set", func(t *testing.T) {
		fw := &roadmap.Framework{Title: "v1"}
		out := Reduce(State{Framework: fw}, State{})
		if out.Framework != fw {
			t.Error("framework dropped by zero delta")
		}
		fw2 := &roadmap.Framework{Title: "v2"}
		out = Reduce(out, State{Framework: fw2})
		if out.Framework.Title != "v2" {
			t.Errorf("framework = %s", out.Framework.Title)
		}
	})

	t.Run("outcome and failures", func(t *testing.T) {
		failed := map[roadmap.ArtifactKind][]string{roadmap.KindQuiz: {"c3"}}
		out := Reduce(State{}, State{Outcome: roadmap.StatusPartialFailure, FailedConcepts: failed})
		if out.Outcome != roadmap.StatusPartialFailure {
			t.Errorf("Outcome = %s", out.Outcome)
		}
		if len(out.FailedConcepts[roadmap.KindQuiz]) != 1 {
			t.Errorf("FailedConcepts = %v", out.FailedConcepts)
		}
	})
}

func TestStatePredicates(t *testing.T) {
	t.Run("validated when validations outnumber edits", func(t *testing.T) {
		if (State{Validations: 1, Edits: 1}).Validated() {
			t.Error("edited framework counted as validated")
		}
		if !(State{Validations: 2, Edits: 1}).Validated() {
			t.Error("revalidated framework not counted")
		}
	})

	t.Run("decision applies to its round only", func(t *testing.T) {
		s := State{Decision: roadmap.DecisionApprove, DecisionRound: 0, Edits: 0, Validations: 1}
		if !s.Approved() {
			t.Error("approval of current round ignored")
		}

		// An edit after the approval invalidates it.
		s = Reduce(s, State{Edits: 1})
		if s.Approved() {
			t.Error("stale approval carried past an edit")
		}
	})

	t.Run("rejection mirrors approval", func(t *testing.T) {
		s := State{Decision: roadmap.DecisionReject, DecisionRound: 1, Edits: 1}
		if !s.Rejected() {
			t.Error("rejection of current round ignored")
		}
		if s.Approved() {
			t.Error("rejected state reported approved")
		}
	})
}

func TestConfigNormalize(t *testing.T) {
	got := Config{}.normalize()
	want := DefaultConfig()
	if got != want {
		t.Errorf("normalize() = %+v, want %+v", got, want)
	}

	custom := Config{MaxEditCycles: 5, MinValidationScore: 0.9, KindConcurrency: 2}.normalize()
	if custom.MaxEditCycles != 5 || custom.MinValidationScore != 0.9 || custom.KindConcurrency != 2 {
		t.Errorf("normalize clobbered explicit values: %+v", custom)
	}
}

// validOutput is a small helper for router and reducer tests.
func validOutput(score float64) *agent.ValidationOutput {
	return &agent.ValidationOutput{Score: score}
}
