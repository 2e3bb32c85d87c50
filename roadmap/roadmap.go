// Package roadmap defines the domain model for generated learning roadmaps:
// the Task lifecycle, the Framework tree (Stages -> Modules -> Concepts), and
// the metadata rows that back each generated artifact.
package roadmap

import "time"

// TaskStatus is the lifecycle state of a generation Task.
//
// Transitions:
//
//	pending -> processing -> {human_review_pending -> processing | completed | partial_failure | failed}
//	rejected is entered only from human_review_pending.
//
// completed, partial_failure, failed and rejected are terminal. Once a task
// reaches a terminal status no component may transition it back.
type TaskStatus string

const (
	StatusPending            TaskStatus = "pending"
	StatusProcessing         TaskStatus = "processing"
	StatusHumanReviewPending TaskStatus = "human_review_pending"
	StatusCompleted          TaskStatus = "completed"
	StatusPartialFailure     TaskStatus = "partial_failure"
	StatusFailed             TaskStatus = "failed"
	StatusRejected           TaskStatus = "rejected"
)

// Terminal reports whether the status is a terminal leaf of the task
// state machine.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartialFailure, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Step identifies a node of the generation workflow. Stored on the Task row
// as current_step and used as the checkpoint step id.
type Step string

const (
	StepIntentAnalysis    Step = "intent_analysis"
	StepCurriculumDesign  Step = "curriculum_design"
	StepValidation        Step = "validation"
	StepEditing           Step = "editing"
	StepHumanReview       Step = "human_review"
	StepContentQueued     Step = "content_generation_queued"
	StepContentGeneration Step = "content_generation"
	StepDone              Step = "done"
)

// ArtifactKind is one of the three independent artifacts generated per
// concept during content fan-out.
type ArtifactKind string

const (
	KindTutorial  ArtifactKind = "tutorial"
	KindResources ArtifactKind = "resources"
	KindQuiz      ArtifactKind = "quiz"
)

// Kinds lists all artifact kinds in the order the content fan-out
// schedules them.
func Kinds() []ArtifactKind {
	return []ArtifactKind{KindTutorial, KindResources, KindQuiz}
}

// ContentStatus is the structural projection, stored inside framework_data,
// of whether a detail row exists for a (concept, kind) pair.
type ContentStatus string

const (
	ContentPending    ContentStatus = "pending"
	ContentProcessing ContentStatus = "processing"
	ContentCompleted  ContentStatus = "completed"
	ContentFailed     ContentStatus = "failed"
)

// ReviewDecision is the external input that resumes a workflow suspended at
// human review.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
	DecisionEdit    ReviewDecision = "edit"
)

// Task is the unit of work created by the request handler. It is mutated
// only by the workflow executor and the error handler.
type Task struct {
	TaskID       string          `db:"task_id" json:"task_id"`
	UserID       string          `db:"user_id" json:"user_id"`
	TaskType     string          `db:"task_type" json:"task_type"`
	UserRequest  UserRequest     `db:"user_request" json:"user_request"`
	Status       TaskStatus      `db:"status" json:"status"`
	CurrentStep  Step            `db:"current_step" json:"current_step"`
	RoadmapID    string          `db:"roadmap_id" json:"roadmap_id,omitempty"`
	QueueTaskID  string          `db:"queue_task_id" json:"queue_task_id,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Task types accepted by the handler.
const (
	TaskTypeGenerate   = "roadmap_generation"
	TaskTypeRetry      = "content_retry"
	TaskTypeRegenerate = "concept_regeneration"
)

// UserRequest is the opaque input document submitted with a task.
type UserRequest struct {
	Goal               string   `json:"goal"`
	Background         string   `json:"background,omitempty"`
	TargetHoursPerWeek float64  `json:"target_hours_per_week,omitempty"`
	PreferredLanguage  string   `json:"preferred_language,omitempty"`
	FocusAreas         []string `json:"focus_areas,omitempty"`
}

// RoadmapMetadata is the structural half of the dual store: the Framework
// tree plus ownership. Detail rows (tutorials, resources, quizzes) are the
// source of truth for per-concept content; the statuses embedded in
// FrameworkData are a projection of them.
type RoadmapMetadata struct {
	RoadmapID     string    `db:"roadmap_id" json:"roadmap_id"`
	TaskID        string    `db:"task_id" json:"task_id"`
	UserID        string    `db:"user_id" json:"user_id"`
	FrameworkData Framework `db:"framework_data" json:"framework_data"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TutorialMetadata is the detail row for one generated tutorial version.
// For each (roadmap_id, concept_id) at most one row has IsLatest set, and
// ContentVersion strictly increases across rows for the same concept.
type TutorialMetadata struct {
	TutorialID     string        `db:"tutorial_id" json:"tutorial_id"`
	ConceptID      string        `db:"concept_id" json:"concept_id"`
	RoadmapID      string        `db:"roadmap_id" json:"roadmap_id"`
	ContentVersion int           `db:"content_version" json:"content_version"`
	IsLatest       bool          `db:"is_latest" json:"is_latest"`
	ContentURL     string        `db:"content_url" json:"content_url"`
	Summary        string        `db:"summary" json:"summary"`
	ContentStatus  ContentStatus `db:"content_status" json:"content_status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Resource is one recommended external resource.
type Resource struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResourceRecommendationMetadata is the detail row for a concept's
// recommended resources, keyed uniquely by (concept_id, roadmap_id).
type ResourceRecommendationMetadata struct {
	ID        string     `db:"id" json:"id"`
	ConceptID string     `db:"concept_id" json:"concept_id"`
	RoadmapID string     `db:"roadmap_id" json:"roadmap_id"`
	Resources []Resource `db:"resources" json:"resources"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// QuizQuestion is a single generated quiz question.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuizMetadata is the detail row for a concept's quiz, keyed uniquely by
// (concept_id, roadmap_id).
type QuizMetadata struct {
	QuizID    string         `db:"quiz_id" json:"quiz_id"`
	ConceptID string         `db:"concept_id" json:"concept_id"`
	RoadmapID string         `db:"roadmap_id" json:"roadmap_id"`
	Questions []QuizQuestion `db:"questions" json:"questions"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// IntentAnalysisMetadata holds the parsed learning goal for a task,
// upserted by task_id.
type IntentAnalysisMetadata struct {
	TaskID    string    `db:"task_id" json:"task_id"`
	Intent    Intent    `db:"intent" json:"intent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Intent is the output document of the intent analyzer agent.
type Intent struct {
	Goal            string   `json:"goal"`
	SkillLevel      string   `json:"skill_level,omitempty"`
	LearningStyle   string   `json:"learning_style,omitempty"`
	TimeConstraints string   `json:"time_constraints,omitempty"`
	Topics          []string `json:"topics,omitempty"`
}

// UserProfile stores per-user preferences consulted by the curriculum and
// content agents.
type UserProfile struct {
	UserID             string    `db:"user_id" json:"user_id"`
	PreferredLanguage  string    `db:"preferred_language" json:"preferred_language,omitempty"`
	SkillLevel         string    `db:"skill_level" json:"skill_level,omitempty"`
	TargetHoursPerWeek float64   `db:"target_hours_per_week" json:"target_hours_per_week,omitempty"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// ExecutionLog is one append-only log row. TraceID equals the task id.
type ExecutionLog struct {
	ID        int64     `db:"id" json:"id"`
	TraceID   string    `db:"trace_id" json:"trace_id"`
	Level     string    `db:"level" json:"level"`
	Category  string    `db:"category" json:"category"`
	Payload   string    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
