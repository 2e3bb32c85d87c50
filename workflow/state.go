// Package workflow is the roadmap-generation state machine: the state
// carried across nodes, the pure router that links them, the node
// runners, the content fan-out, and the executor that binds everything
// onto the graph engine.
package workflow

import (
	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/roadmap"
)

// State is the workflow state checkpointed after every node. Nodes return
// partial States (deltas); Reduce merges them.
//
// Progress through editing and review is tracked with monotonic counters
// so that merges stay order-independent: the framework is validated when
// Validations > Edits, and a review decision applies only to the edit
// round it was made for.
type State struct {
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	RoadmapID string `json:"roadmap_id,omitempty"`

	Request roadmap.UserRequest  `json:"request"`
	Profile *roadmap.UserProfile `json:"profile,omitempty"`

	Intent    *roadmap.Intent         `json:"intent,omitempty"`
	Framework *roadmap.Framework      `json:"framework,omitempty"`
	Valid     *agent.ValidationOutput `json:"validation,omitempty"`

	// Edits counts framework revisions (editor node or external edit
	// decisions). Validations counts validator runs. The framework is
	// considered validated when Validations > Edits.
	Edits       int `json:"edits"`
	Validations int `json:"validations"`

	// Decision is the latest human-review decision; DecisionRound is the
	// Edits value it was made against. A decision from an earlier round
	// does not carry past an edit.
	Decision      roadmap.ReviewDecision `json:"decision,omitempty"`
	DecisionRound int                    `json:"decision_round"`

	// ContentQueued is set once the fan-out job has been enqueued;
	// ContentDone once the fan-out has resolved every artifact.
	ContentQueued bool `json:"content_queued"`
	ContentDone   bool `json:"content_done"`

	// FailedConcepts enumerates, per artifact kind, the concepts whose
	// artifact could not be produced.
	FailedConcepts map[roadmap.ArtifactKind][]string `json:"failed_concepts,omitempty"`

	// Outcome is the terminal task status resolved by the fan-out
	// (completed, partial_failure or failed).
	Outcome roadmap.TaskStatus `json:"outcome,omitempty"`
}

// Validated reports whether the current framework revision has passed
// through the validator.
func (s State) Validated() bool { return s.Validations > s.Edits }

// Approved reports whether the current framework revision carries an
// approve decision.
func (s State) Approved() bool {
	return s.Decision == roadmap.DecisionApprove && s.DecisionRound == s.Edits
}

// Rejected reports whether the current framework revision carries a
// reject decision.
func (s State) Rejected() bool {
	return s.Decision == roadmap.DecisionReject && s.DecisionRound == s.Edits
}

// Reduce merges a node's delta into the previous state. Scalars follow
// non-zero-wins, counters take the maximum, and booleans latch once set.
// Reduce is deterministic and total.
func Reduce(prev, delta State) State {
	out := prev

	if delta.TaskID != "" {
		out.TaskID = delta.TaskID
	}
	if delta.UserID != "" {
		out.UserID = delta.UserID
	}
	if delta.RoadmapID != "" {
		out.RoadmapID = delta.RoadmapID
	}
	if delta.Request.Goal != "" {
		out.Request = delta.Request
	}
	if delta.Profile != nil {
		out.Profile = delta.Profile
	}
	if delta.Intent != nil {
		out.Intent = delta.Intent
	}
	if delta.Framework != nil {
		out.Framework = delta.Framework
	}
	if delta.Valid != nil {
		out.Valid = delta.Valid
	}
	if delta.Edits > out.Edits {
		out.Edits = delta.Edits
	}
	if delta.Validations > out.Validations {
		out.Validations = delta.Validations
	}
	if delta.Decision != "" {
		out.Decision = delta.Decision
	}
	if delta.DecisionRound > out.DecisionRound {
		out.DecisionRound = delta.DecisionRound
	}
	out.ContentQueued = out.ContentQueued || delta.ContentQueued
	out.ContentDone = out.ContentDone || delta.ContentDone
	if delta.FailedConcepts != nil {
		out.FailedConcepts = delta.FailedConcepts
	}
	if delta.Outcome != "" {
		out.Outcome = delta.Outcome
	}

	return out
}

// Config enumerates the router's skips and limits plus the fan-out's
// concurrency budget.
type Config struct {
	SkipValidation        bool `yaml:"skip_validation"`
	SkipHumanReview       bool `yaml:"skip_human_review"`
	SkipContentGeneration bool `yaml:"skip_content_generation"`

	// MaxEditCycles bounds automatic editor passes per workflow.
	MaxEditCycles int `yaml:"max_edit_cycles"`

	// MinValidationScore is the validator score below which the editor
	// runs.
	MinValidationScore float64 `yaml:"min_validation_score"`

	// KindConcurrency caps concurrent LLM calls per artifact kind during
	// fan-out.
	KindConcurrency int `yaml:"kind_concurrency"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxEditCycles:      2,
		MinValidationScore: 0.7,
		KindConcurrency:    10,
	}
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxEditCycles <= 0 {
		c.MaxEditCycles = d.MaxEditCycles
	}
	if c.MinValidationScore <= 0 {
		c.MinValidationScore = d.MinValidationScore
	}
	if c.KindConcurrency <= 0 {
		c.KindConcurrency = d.KindConcurrency
	}
	return c
}
