package graph

import (
	"sync"
	"testing"
)

func TestStateManager(t *testing.T) {
	t.Run("set get clear", func(t *testing.T) {
		sm := NewStateManager()
		sm.Set("wf-1", "intent_analysis")

		step, ok := sm.Get("wf-1")
		if !ok || step != "intent_analysis" {
			t.Errorf("Get = %q, %v", step, ok)
		}

		sm.Clear("wf-1")
		if _, ok := sm.Get("wf-1"); ok {
			t.Error("entry survived Clear")
		}
	})

	t.Run("unknown workflow", func(t *testing.T) {
		sm := NewStateManager()
		if _, ok := sm.Get("nope"); ok {
			t.Error("expected miss for unknown workflow")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		sm := NewStateManager()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sm.Set("wf", "step")
				sm.Get("wf")
				sm.Clear("wf")
			}()
		}
		wg.Wait()
	})
}
