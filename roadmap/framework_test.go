package roadmap

import "testing"

func twoStageFramework() Framework {
	return Framework{
		Title: "Learn Go",
		Stages: []Stage{
			{Title: "Basics", Modules: []Module{
				{Title: "Syntax", Concepts: []Concept{
					{ID: "c1", Name: "Variables", EstimatedHours: 2},
					{ID: "c2", Name: "Functions", EstimatedHours: 3},
				}},
			}},
			{Title: "Concurrency", Modules: []Module{
				{Title: "Goroutines", Concepts: []Concept{
					{ID: "c3", Name: "Channels", EstimatedHours: 5},
				}},
			}},
		},
	}
}

func TestFramework_Normalize(t *testing.T) {
	t.Run("fills order, totals and weeks", func(t *testing.T) {
		fw := twoStageFramework()
		fw.Normalize(5)

		if fw.Stages[0].Order != 1 || fw.Stages[1].Order != 2 {
			t.Errorf("expected 1-based stage order, got %d, %d", fw.Stages[0].Order, fw.Stages[1].Order)
		}
		if fw.TotalEstimatedHours != 10 {
			t.Errorf("expected total hours 10, got %v", fw.TotalEstimatedHours)
		}
		if fw.RecommendedCompletionWeeks != 2 {
			t.Errorf("expected 2 weeks, got %d", fw.RecommendedCompletionWeeks)
		}
		for _, c := range fw.Concepts() {
			if c.ContentStatus != ContentPending || c.ResourcesStatus != ContentPending || c.QuizStatus != ContentPending {
				t.Errorf("concept %s: statuses not defaulted to pending", c.ID)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		fw := twoStageFramework()
		fw.Normalize(5)
		before := fw
		fw.Normalize(5)
		if fw.TotalEstimatedHours != before.TotalEstimatedHours ||
			fw.RecommendedCompletionWeeks != before.RecommendedCompletionWeeks {
			t.Errorf("second Normalize changed derived fields: %+v vs %+v", fw, before)
		}
	})

	t.Run("does not overwrite provided values", func(t *testing.T) {
		fw := twoStageFramework()
		fw.Stages[0].Order = 7
		fw.TotalEstimatedHours = 42
		fw.RecommendedCompletionWeeks = 9
		fw.Normalize(5)
		if fw.Stages[0].Order != 7 {
			t.Errorf("expected provided order preserved, got %d", fw.Stages[0].Order)
		}
		if fw.TotalEstimatedHours != 42 || fw.RecommendedCompletionWeeks != 9 {
			t.Errorf("derived fields overwritten: %+v", fw)
		}
	})
}

func TestFramework_Concepts(t *testing.T) {
	fw := twoStageFramework()
	concepts := fw.Concepts()
	if len(concepts) != 3 {
		t.Fatalf("expected 3 concepts, got %d", len(concepts))
	}
	// Traversal order is stage, module, concept.
	want := []string{"c1", "c2", "c3"}
	for i, c := range concepts {
		if c.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}

	// Returned pointers alias the tree.
	concepts[0].SetArtifact(KindTutorial, "tut-1", ContentCompleted)
	if fw.Stages[0].Modules[0].Concepts[0].TutorialID != "tut-1" {
		t.Error("SetArtifact through Concepts() did not mutate the tree")
	}
}

func TestConcept_SetArtifact(t *testing.T) {
	c := Concept{ID: "c1", ContentStatus: ContentPending}

	c.SetArtifact(KindResources, "res-1", ContentCompleted)
	if c.ResourcesStatus != ContentCompleted || c.ResourcesID != "res-1" {
		t.Errorf("resources artifact not recorded: %+v", c)
	}

	// Failure keeps the prior reference id.
	c.SetArtifact(KindResources, "", ContentFailed)
	if c.ResourcesStatus != ContentFailed {
		t.Errorf("expected failed status, got %s", c.ResourcesStatus)
	}
	if c.ResourcesID != "res-1" {
		t.Errorf("failure cleared reference id: %q", c.ResourcesID)
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusPartialFailure, StatusFailed, StatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []TaskStatus{StatusPending, StatusProcessing, StatusHumanReviewPending}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
