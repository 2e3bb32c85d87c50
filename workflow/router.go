package workflow

import (
	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/roadmap"
)

// Node ids are the workflow step names stored on the task row.
const (
	nodeIntent     = string(roadmap.StepIntentAnalysis)
	nodeCurriculum = string(roadmap.StepCurriculumDesign)
	nodeValidation = string(roadmap.StepValidation)
	nodeEditor     = string(roadmap.StepEditing)
	nodeReview     = string(roadmap.StepHumanReview)
	nodeContent    = string(roadmap.StepContentGeneration)
)

// NewRouter builds the pure routing function for a workflow config.
//
// Rules apply in order; the first match wins, which also makes the
// tie-break stable:
//
//  1. no intent          -> intent analysis
//  2. no framework       -> curriculum design
//  3. not validated      -> validation (unless skipped)
//  4. score below bar    -> editor, while edit cycles remain
//  5. rejected           -> end
//  6. not approved       -> human review (unless skipped)
//  7. content not done   -> content (unless skipped)
//  8. otherwise          -> end
func NewRouter(cfg Config) graph.Router[State] {
	cfg = cfg.normalize()

	return func(s State) graph.Next {
		switch {
		case s.Intent == nil:
			return graph.Goto(nodeIntent)

		case s.Framework == nil:
			return graph.Goto(nodeCurriculum)

		case !cfg.SkipValidation && !s.Validated():
			return graph.Goto(nodeValidation)

		case !cfg.SkipValidation && needsEdit(s, cfg) && s.Edits < cfg.MaxEditCycles:
			return graph.Goto(nodeEditor)

		case s.Rejected():
			return graph.Stop()

		case !cfg.SkipHumanReview && !s.Approved():
			return graph.Goto(nodeReview)

		case !cfg.SkipContentGeneration && !s.ContentDone:
			return graph.Goto(nodeContent)

		default:
			return graph.Stop()
		}
	}
}

// needsEdit reports whether the latest validation calls for an editor
// pass.
func needsEdit(s State, cfg Config) bool {
	return s.Valid != nil && s.Valid.Score < cfg.MinValidationScore
}
