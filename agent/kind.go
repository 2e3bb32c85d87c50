// Package agent implements the LLM agent contracts: eleven agent kinds
// behind one Execute shape, a configuration-driven factory, the shared
// output parser, and the bounded tool-call loop.
package agent

import "fmt"

// Kind identifies one of the eleven agent variants.
type Kind string

const (
	// KindIntentAnalyzer parses the raw user request into an Intent.
	KindIntentAnalyzer Kind = "intent_analyzer"

	// KindCurriculumArchitect designs the Framework from an intent and
	// the user profile.
	KindCurriculumArchitect Kind = "curriculum_architect"

	// KindStructureValidator checks a Framework and reports issues with
	// severities and an overall score.
	KindStructureValidator Kind = "structure_validator"

	// KindRoadmapEditor revises a Framework to address validation
	// issues.
	KindRoadmapEditor Kind = "roadmap_editor"

	// KindTutorialGenerator writes the tutorial for one concept. Tool
	// using; supports streaming.
	KindTutorialGenerator Kind = "tutorial_generator"

	// KindResourceRecommender finds external resources for one concept.
	// Tool using.
	KindResourceRecommender Kind = "resource_recommender"

	// KindQuizGenerator writes the quiz for one concept.
	KindQuizGenerator Kind = "quiz_generator"

	// KindModificationAnalyzer decides which artifact kinds a
	// regeneration request affects and extracts instructions.
	KindModificationAnalyzer Kind = "modification_analyzer"

	// KindTutorialModifier regenerates a tutorial using the prior
	// version as context.
	KindTutorialModifier Kind = "tutorial_modifier"

	// KindResourceModifier regenerates resource recommendations using
	// the prior set as context.
	KindResourceModifier Kind = "resource_modifier"

	// KindQuizModifier regenerates a quiz using the prior questions as
	// context.
	KindQuizModifier Kind = "quiz_modifier"
)

// AllKinds lists every agent variant the factory can build.
func AllKinds() []Kind {
	return []Kind{
		KindIntentAnalyzer,
		KindCurriculumArchitect,
		KindStructureValidator,
		KindRoadmapEditor,
		KindTutorialGenerator,
		KindResourceRecommender,
		KindQuizGenerator,
		KindModificationAnalyzer,
		KindTutorialModifier,
		KindResourceModifier,
		KindQuizModifier,
	}
}

// Valid reports whether k names a known agent variant.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// usesTools reports whether this variant runs the bounded tool loop.
func (k Kind) usesTools() bool {
	switch k {
	case KindTutorialGenerator, KindResourceRecommender, KindTutorialModifier, KindResourceModifier:
		return true
	}
	return false
}

func (k Kind) validate() error {
	if !k.Valid() {
		return fmt.Errorf("unknown agent kind: %s", k)
	}
	return nil
}
