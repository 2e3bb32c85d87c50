package roadmap

import "math"

// Framework is the Stages -> Modules -> Concepts tree stored inside a
// RoadmapMetadata row. The per-concept status triplet and reference ids are
// the structural projection of the detail rows; readers that need to know
// whether content exists query the detail tables instead.
type Framework struct {
	Title                      string  `json:"title"`
	Description                string  `json:"description,omitempty"`
	Stages                     []Stage `json:"stages"`
	TotalEstimatedHours        float64 `json:"total_estimated_hours"`
	RecommendedCompletionWeeks int     `json:"recommended_completion_weeks"`
}

// Stage groups modules into an ordered phase of the roadmap.
type Stage struct {
	Order       int      `json:"order"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Modules     []Module `json:"modules"`
}

// Module groups related concepts.
type Module struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Concepts    []Concept `json:"concepts"`
}

// Concept is a single learning unit and the target of the three content
// artifacts.
type Concept struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	EstimatedHours float64 `json:"estimated_hours"`

	ContentStatus   ContentStatus `json:"content_status"`
	ResourcesStatus ContentStatus `json:"resources_status"`
	QuizStatus      ContentStatus `json:"quiz_status"`

	TutorialID  string `json:"tutorial_id,omitempty"`
	ResourcesID string `json:"resources_id,omitempty"`
	QuizID      string `json:"quiz_id,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
}

// Normalize fills fields an agent may have omitted: 1-based stage order,
// pending statuses, total hours as the sum of concept hours, and the
// recommended week count derived from targetHoursPerWeek.
//
// Normalize is idempotent; applying it twice yields the same framework.
func (f *Framework) Normalize(targetHoursPerWeek float64) {
	var total float64
	for i := range f.Stages {
		if f.Stages[i].Order == 0 {
			f.Stages[i].Order = i + 1
		}
		for j := range f.Stages[i].Modules {
			for k := range f.Stages[i].Modules[j].Concepts {
				c := &f.Stages[i].Modules[j].Concepts[k]
				if c.ContentStatus == "" {
					c.ContentStatus = ContentPending
				}
				if c.ResourcesStatus == "" {
					c.ResourcesStatus = ContentPending
				}
				if c.QuizStatus == "" {
					c.QuizStatus = ContentPending
				}
				total += c.EstimatedHours
			}
		}
	}
	if f.TotalEstimatedHours == 0 {
		f.TotalEstimatedHours = total
	}
	if f.RecommendedCompletionWeeks == 0 && targetHoursPerWeek > 0 {
		f.RecommendedCompletionWeeks = int(math.Ceil(f.TotalEstimatedHours / targetHoursPerWeek))
	}
}

// Concepts returns pointers to every concept in framework traversal order
// (stage, module, concept). The content fan-out schedules work in this
// order per artifact kind.
func (f *Framework) Concepts() []*Concept {
	var out []*Concept
	for i := range f.Stages {
		for j := range f.Stages[i].Modules {
			for k := range f.Stages[i].Modules[j].Concepts {
				out = append(out, &f.Stages[i].Modules[j].Concepts[k])
			}
		}
	}
	return out
}

// FindConcept returns the concept with the given id, or nil.
func (f *Framework) FindConcept(conceptID string) *Concept {
	for _, c := range f.Concepts() {
		if c.ID == conceptID {
			return c
		}
	}
	return nil
}

// StatusFor returns the status field matching the artifact kind.
func (c *Concept) StatusFor(kind ArtifactKind) ContentStatus {
	switch kind {
	case KindTutorial:
		return c.ContentStatus
	case KindResources:
		return c.ResourcesStatus
	case KindQuiz:
		return c.QuizStatus
	}
	return ""
}

// SetArtifact records a detail-row reference on the concept and moves the
// matching status. An empty id with status failed marks a failed artifact
// without clearing any previous reference.
func (c *Concept) SetArtifact(kind ArtifactKind, id string, status ContentStatus) {
	switch kind {
	case KindTutorial:
		c.ContentStatus = status
		if id != "" {
			c.TutorialID = id
		}
	case KindResources:
		c.ResourcesStatus = status
		if id != "" {
			c.ResourcesID = id
		}
	case KindQuiz:
		c.QuizStatus = status
		if id != "" {
			c.QuizID = id
		}
	}
}
