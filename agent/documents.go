package agent

import "github.com/dshills/pathweaver/roadmap"

// Typed document shapes for each agent variant. Inputs are rendered into
// the prompt; outputs are decoded from the recovered document with
// Decode (ParseFramework for frameworks).

// IntentInput feeds the intent analyzer.
type IntentInput struct {
	Request roadmap.UserRequest `json:"request"`
}

// CurriculumInput feeds the curriculum architect.
type CurriculumInput struct {
	Intent  roadmap.Intent       `json:"intent"`
	Profile *roadmap.UserProfile `json:"profile,omitempty"`
}

// ValidationInput feeds the structure validator.
type ValidationInput struct {
	Framework roadmap.Framework `json:"framework"`
}

// ValidationIssue is one problem found by the validator.
type ValidationIssue struct {
	Severity string `json:"severity"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

// ValidationOutput is the validator's result document.
type ValidationOutput struct {
	Score  float64           `json:"score"`
	Issues []ValidationIssue `json:"issues"`
}

// EditorInput feeds the roadmap editor.
type EditorInput struct {
	Framework roadmap.Framework `json:"framework"`
	Issues    []ValidationIssue `json:"issues"`
}

// ConceptInput feeds the three content generators.
type ConceptInput struct {
	Concept roadmap.Concept      `json:"concept"`
	Profile *roadmap.UserProfile `json:"profile,omitempty"`
}

// TutorialDoc is the tutorial generator's output document. Content is the
// full Markdown body, uploaded to the blob store rather than persisted in
// the metadata row.
type TutorialDoc struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// ResourceDoc is the resource recommender's output document.
type ResourceDoc struct {
	Resources []roadmap.Resource `json:"resources"`
}

// QuizDoc is the quiz generator's output document.
type QuizDoc struct {
	Questions []roadmap.QuizQuestion `json:"questions"`
}

// ModificationInput feeds the modification analyzer.
type ModificationInput struct {
	Request string          `json:"request"`
	Concept roadmap.Concept `json:"concept"`
}

// ModificationOutput names the artifact kinds a change request affects.
type ModificationOutput struct {
	Kinds        []roadmap.ArtifactKind `json:"kinds"`
	Instructions string                 `json:"instructions"`
}

// ModifyTutorialInput feeds the tutorial modifier.
type ModifyTutorialInput struct {
	Concept      roadmap.Concept `json:"concept"`
	Prior        TutorialDoc     `json:"prior"`
	Instructions string          `json:"instructions"`
}

// ModifyResourcesInput feeds the resource modifier.
type ModifyResourcesInput struct {
	Concept      roadmap.Concept    `json:"concept"`
	Prior        []roadmap.Resource `json:"prior"`
	Instructions string             `json:"instructions"`
}

// ModifyQuizInput feeds the quiz modifier.
type ModifyQuizInput struct {
	Concept      roadmap.Concept        `json:"concept"`
	Prior        []roadmap.QuizQuestion `json:"prior"`
	Instructions string                 `json:"instructions"`
}
