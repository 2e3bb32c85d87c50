package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/blob"
	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

// fanout generates the per-concept artifacts of a roadmap. Kinds run in
// parallel; within a kind, concepts are scheduled in framework traversal
// order under a per-kind semaphore. Writes are grouped into one
// transaction per kind, plus one final transaction that converges the
// framework projection.
type fanout struct {
	deps Deps
}

// artifactResult is one concept's outcome for one kind.
type artifactResult struct {
	conceptID string
	rowID     string
	url       string
	summary   string
	resources []roadmap.Resource
	questions []roadmap.QuizQuestion
	skipped   bool
	err       error
}

// run produces every requested artifact and returns the state delta that
// resumes the parent workflow.
func (f *fanout) run(ctx context.Context, task *roadmap.Task, meta *roadmap.RoadmapMetadata, job queue.Job) (State, error) {
	kinds := job.Kinds
	if len(kinds) == 0 {
		kinds = roadmap.Kinds()
	}

	concepts := selectConcepts(&meta.FrameworkData, job.ConceptIDs)
	if len(concepts) == 0 {
		return State{}, fmt.Errorf("fanout: no matching concepts in roadmap %s", meta.RoadmapID)
	}

	instructions := job.Instructions
	if instructions != "" && len(job.Kinds) == 0 {
		resolved, refined, err := f.analyzeModification(ctx, task.TaskID, concepts[0], instructions)
		if err != nil {
			return State{}, err
		}
		kinds = resolved
		instructions = refined
	}

	profile, err := f.loadProfile(ctx, task.UserID)
	if err != nil {
		return State{}, err
	}

	perKind := make([][]artifactResult, len(kinds))
	var group errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		group.Go(func() error {
			kindResults, err := f.runKind(ctx, task, meta, kind, concepts, profile, job.OnlyFailed, instructions)
			if err != nil {
				return err
			}
			perKind[i] = kindResults
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return State{}, err
	}

	results := make(map[roadmap.ArtifactKind][]artifactResult, len(kinds))
	for i, kind := range kinds {
		results[kind] = perKind[i]
	}
	return f.converge(ctx, meta, results)
}

// runKind produces one artifact kind for every scheduled concept, then
// persists the successes in a single transaction.
func (f *fanout) runKind(ctx context.Context, task *roadmap.Task, meta *roadmap.RoadmapMetadata, kind roadmap.ArtifactKind, concepts []*roadmap.Concept, profile *roadmap.UserProfile, onlyFailed bool, instructions string) ([]artifactResult, error) {
	sem := semaphore.NewWeighted(int64(f.deps.Config.normalize().KindConcurrency))
	results := make([]artifactResult, len(concepts))

	var group errgroup.Group
	for i, concept := range concepts {
		if onlyFailed && concept.StatusFor(kind) == roadmap.ContentCompleted {
			results[i] = artifactResult{conceptID: concept.ID, skipped: true}
			continue
		}
		if instructions == "" && f.hasArtifact(ctx, meta.RoadmapID, concept.ID, kind) {
			results[i] = artifactResult{conceptID: concept.ID, skipped: true}
			continue
		}

		i, concept := i, concept
		group.Go(func() error {
			// Acquired inside the goroutine so a cancelled acquire
			// surfaces through group.Wait with nothing left running.
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if f.deps.Metrics != nil {
				f.deps.Metrics.FanoutStarted(string(kind))
				defer f.deps.Metrics.FanoutFinished(string(kind))
			}
			results[i] = f.produce(ctx, task, meta.RoadmapID, kind, concept, profile, instructions)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := f.persistKind(ctx, meta.RoadmapID, kind, results); err != nil {
		return nil, err
	}
	return results, nil
}

// produce generates or modifies one artifact. Failures are recorded on
// the result, not returned: one concept's failure must not stop the rest.
func (f *fanout) produce(ctx context.Context, task *roadmap.Task, roadmapID string, kind roadmap.ArtifactKind, concept *roadmap.Concept, profile *roadmap.UserProfile, instructions string) artifactResult {
	var result artifactResult
	var err error
	if instructions != "" {
		result, err = f.modifyArtifact(ctx, task, roadmapID, kind, concept, instructions)
	} else {
		result, err = f.generateArtifact(ctx, task, roadmapID, kind, concept, profile)
	}
	result.conceptID = concept.ID
	if err != nil {
		f.deps.Logger.Warn("artifact failed",
			zap.String("task_id", task.TaskID),
			zap.String("concept_id", concept.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		result.err = err
	}
	return result
}

func (f *fanout) generateArtifact(ctx context.Context, task *roadmap.Task, roadmapID string, kind roadmap.ArtifactKind, concept *roadmap.Concept, profile *roadmap.UserProfile) (artifactResult, error) {
	input := agent.Input{
		TaskID:   task.TaskID,
		Document: agent.ConceptInput{Concept: *concept, Profile: profile},
		Stream:   f.chunkStream(task.TaskID, concept.ID, kind),
	}

	switch kind {
	case roadmap.KindTutorial:
		return f.buildTutorial(ctx, task, roadmapID, concept, agent.KindTutorialGenerator, input)

	case roadmap.KindResources:
		out, err := f.execute(ctx, agent.KindResourceRecommender, input)
		if err != nil {
			return artifactResult{}, err
		}
		var doc agent.ResourceDoc
		if err := agent.Decode(out.Document, &doc); err != nil {
			return artifactResult{}, graph.ParseFailure(err)
		}
		return artifactResult{rowID: uuid.NewString(), resources: doc.Resources}, nil

	case roadmap.KindQuiz:
		out, err := f.execute(ctx, agent.KindQuizGenerator, input)
		if err != nil {
			return artifactResult{}, err
		}
		var doc agent.QuizDoc
		if err := agent.Decode(out.Document, &doc); err != nil {
			return artifactResult{}, graph.ParseFailure(err)
		}
		return artifactResult{rowID: uuid.NewString(), questions: doc.Questions}, nil
	}
	return artifactResult{}, graph.Fatal(fmt.Errorf("unknown artifact kind %q", kind))
}

func (f *fanout) modifyArtifact(ctx context.Context, task *roadmap.Task, roadmapID string, kind roadmap.ArtifactKind, concept *roadmap.Concept, instructions string) (artifactResult, error) {
	input := agent.Input{
		TaskID: task.TaskID,
		Stream: f.chunkStream(task.TaskID, concept.ID, kind),
	}

	switch kind {
	case roadmap.KindTutorial:
		prior, err := f.priorTutorial(ctx, roadmapID, concept.ID)
		if err != nil {
			return artifactResult{}, err
		}
		input.Document = agent.ModifyTutorialInput{
			Concept: *concept, Prior: prior, Instructions: instructions,
		}
		return f.buildTutorial(ctx, task, roadmapID, concept, agent.KindTutorialModifier, input)

	case roadmap.KindResources:
		existing, err := f.priorResources(ctx, roadmapID, concept.ID)
		if err != nil {
			return artifactResult{}, err
		}
		input.Document = agent.ModifyResourcesInput{
			Concept: *concept, Prior: existing, Instructions: instructions,
		}
		out, err := f.execute(ctx, agent.KindResourceModifier, input)
		if err != nil {
			return artifactResult{}, err
		}
		var doc agent.ResourceDoc
		if err := agent.Decode(out.Document, &doc); err != nil {
			return artifactResult{}, graph.ParseFailure(err)
		}
		return artifactResult{rowID: uuid.NewString(), resources: doc.Resources}, nil

	case roadmap.KindQuiz:
		existing, err := f.priorQuiz(ctx, roadmapID, concept.ID)
		if err != nil {
			return artifactResult{}, err
		}
		input.Document = agent.ModifyQuizInput{
			Concept: *concept, Prior: existing, Instructions: instructions,
		}
		out, err := f.execute(ctx, agent.KindQuizModifier, input)
		if err != nil {
			return artifactResult{}, err
		}
		var doc agent.QuizDoc
		if err := agent.Decode(out.Document, &doc); err != nil {
			return artifactResult{}, graph.ParseFailure(err)
		}
		return artifactResult{rowID: uuid.NewString(), questions: doc.Questions}, nil
	}
	return artifactResult{}, graph.Fatal(fmt.Errorf("unknown artifact kind %q", kind))
}

// buildTutorial runs a tutorial agent and uploads the body to the blob
// store; only the URL lands in the metadata row.
func (f *fanout) buildTutorial(ctx context.Context, task *roadmap.Task, roadmapID string, concept *roadmap.Concept, kind agent.Kind, input agent.Input) (artifactResult, error) {
	out, err := f.execute(ctx, kind, input)
	if err != nil {
		return artifactResult{}, err
	}

	var doc agent.TutorialDoc
	if err := agent.Decode(out.Document, &doc); err != nil {
		return artifactResult{}, graph.ParseFailure(err)
	}
	if doc.Content == "" {
		return artifactResult{}, graph.ParseFailure(fmt.Errorf("tutorial for %s has no content", concept.ID))
	}

	tutorialID := uuid.NewString()
	url, err := f.deps.Blobs.Put(ctx, blob.TutorialKey(roadmapID, concept.ID, tutorialID), []byte(doc.Content))
	if err != nil {
		return artifactResult{}, graph.Transient(fmt.Errorf("upload tutorial body: %w", err))
	}

	return artifactResult{rowID: tutorialID, url: url, summary: doc.Summary}, nil
}

// analyzeModification asks the modification analyzer which artifact kinds
// a change request touches.
func (f *fanout) analyzeModification(ctx context.Context, taskID string, concept *roadmap.Concept, request string) ([]roadmap.ArtifactKind, string, error) {
	out, err := f.execute(ctx, agent.KindModificationAnalyzer, agent.Input{
		TaskID:   taskID,
		Document: agent.ModificationInput{Request: request, Concept: *concept},
	})
	if err != nil {
		return nil, "", err
	}

	var doc agent.ModificationOutput
	if err := agent.Decode(out.Document, &doc); err != nil {
		return nil, "", graph.ParseFailure(err)
	}
	if len(doc.Kinds) == 0 {
		return nil, "", graph.ParseFailure(errors.New("modification analyzer named no artifact kinds"))
	}
	if doc.Instructions == "" {
		doc.Instructions = request
	}
	return doc.Kinds, doc.Instructions, nil
}

// persistKind writes a kind's successful artifacts in one transaction.
func (f *fanout) persistKind(ctx context.Context, roadmapID string, kind roadmap.ArtifactKind, results []artifactResult) error {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	for i := range results {
		res := &results[i]
		if res.err != nil || res.skipped {
			continue
		}

		switch kind {
		case roadmap.KindTutorial:
			err = scope.Tutorials().Save(ctx, &roadmap.TutorialMetadata{
				TutorialID:    res.rowID,
				ConceptID:     res.conceptID,
				RoadmapID:     roadmapID,
				ContentURL:    res.url,
				Summary:       res.summary,
				ContentStatus: roadmap.ContentCompleted,
			})
		case roadmap.KindResources:
			err = scope.Resources().Save(ctx, &roadmap.ResourceRecommendationMetadata{
				ID:        res.rowID,
				ConceptID: res.conceptID,
				RoadmapID: roadmapID,
				Resources: res.resources,
			})
		case roadmap.KindQuiz:
			err = scope.Quizzes().Save(ctx, &roadmap.QuizMetadata{
				QuizID:    res.rowID,
				ConceptID: res.conceptID,
				RoadmapID: roadmapID,
				Questions: res.questions,
			})
		}
		if err != nil {
			return fmt.Errorf("fanout: persist %s for %s: %w", kind, res.conceptID, err)
		}
	}

	return scope.Commit()
}

// converge patches the framework projection from the fan-out results and
// resolves the terminal outcome.
func (f *fanout) converge(ctx context.Context, meta *roadmap.RoadmapMetadata, results map[roadmap.ArtifactKind][]artifactResult) (State, error) {
	failed := make(map[roadmap.ArtifactKind][]string)
	var produced, skipped int

	for kind, kindResults := range results {
		for _, res := range kindResults {
			concept := meta.FrameworkData.FindConcept(res.conceptID)
			if concept == nil {
				continue
			}
			switch {
			case res.err != nil:
				concept.SetArtifact(kind, "", roadmap.ContentFailed)
				failed[kind] = append(failed[kind], res.conceptID)
			case res.skipped:
				skipped++
			default:
				concept.SetArtifact(kind, res.rowID, roadmap.ContentCompleted)
				if kind == roadmap.KindTutorial && res.url != "" {
					concept.ContentURL = res.url
				}
				produced++
			}
		}
	}

	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return State{}, err
	}
	defer scope.Close()
	if err := scope.Roadmaps().UpdateFramework(ctx, meta.RoadmapID, &meta.FrameworkData); err != nil {
		return State{}, err
	}
	if err := scope.Commit(); err != nil {
		return State{}, err
	}

	outcome := roadmap.StatusCompleted
	switch {
	case len(failed) == 0:
		outcome = roadmap.StatusCompleted
	case produced+skipped > 0:
		outcome = roadmap.StatusPartialFailure
	default:
		outcome = roadmap.StatusFailed
	}

	delta := State{ContentDone: true, Outcome: outcome}
	if len(failed) > 0 {
		delta.FailedConcepts = failed
	}
	return delta, nil
}

// execute runs one agent by kind.
func (f *fanout) execute(ctx context.Context, kind agent.Kind, input agent.Input) (agent.Output, error) {
	ag, err := f.deps.Agents.Get(kind)
	if err != nil {
		return agent.Output{}, graph.Fatal(err)
	}
	return ag.Execute(ctx, input)
}

// loadProfile reads the user's preferences; a missing profile is not an
// error.
func (f *fanout) loadProfile(ctx context.Context, userID string) (*roadmap.UserProfile, error) {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	profile, err := scope.Profiles().Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// hasArtifact reports whether a detail row already exists for the pair.
// Detail rows, not the framework projection, are the source of truth.
func (f *fanout) hasArtifact(ctx context.Context, roadmapID, conceptID string, kind roadmap.ArtifactKind) bool {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return false
	}
	defer scope.Close()

	switch kind {
	case roadmap.KindTutorial:
		_, err = scope.Tutorials().GetLatest(ctx, roadmapID, conceptID)
	case roadmap.KindResources:
		_, err = scope.Resources().GetByConcept(ctx, roadmapID, conceptID)
	case roadmap.KindQuiz:
		_, err = scope.Quizzes().GetByConcept(ctx, roadmapID, conceptID)
	default:
		return false
	}
	return err == nil
}

func (f *fanout) priorTutorial(ctx context.Context, roadmapID, conceptID string) (agent.TutorialDoc, error) {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return agent.TutorialDoc{}, err
	}
	defer scope.Close()

	row, err := scope.Tutorials().GetLatest(ctx, roadmapID, conceptID)
	if err != nil {
		return agent.TutorialDoc{}, err
	}

	doc := agent.TutorialDoc{Summary: row.Summary}
	if body, err := f.deps.Blobs.Get(ctx, blob.TutorialKey(roadmapID, conceptID, row.TutorialID)); err == nil {
		doc.Content = string(body)
	}
	return doc, nil
}

func (f *fanout) priorResources(ctx context.Context, roadmapID, conceptID string) ([]roadmap.Resource, error) {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	row, err := scope.Resources().GetByConcept(ctx, roadmapID, conceptID)
	if err != nil {
		return nil, err
	}
	return row.Resources, nil
}

func (f *fanout) priorQuiz(ctx context.Context, roadmapID, conceptID string) ([]roadmap.QuizQuestion, error) {
	scope, err := f.deps.Repos.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	row, err := scope.Quizzes().GetByConcept(ctx, roadmapID, conceptID)
	if err != nil {
		return nil, err
	}
	return row.Questions, nil
}

// chunkStream forwards streamed content tokens to the notification bus.
func (f *fanout) chunkStream(taskID, conceptID string, kind roadmap.ArtifactKind) func(string) {
	if f.deps.Emitter == nil {
		return nil
	}
	return func(delta string) {
		f.deps.Emitter.Emit(emit.Event{
			Type:       emit.ContentChunk,
			WorkflowID: taskID,
			Msg:        delta,
			Meta:       map[string]interface{}{"concept_id": conceptID, "kind": string(kind)},
			At:         time.Now(),
		})
	}
}

// selectConcepts resolves the fan-out's concept set in framework
// traversal order.
func selectConcepts(fw *roadmap.Framework, conceptIDs []string) []*roadmap.Concept {
	all := fw.Concepts()
	if len(conceptIDs) == 0 {
		return all
	}

	wanted := make(map[string]bool, len(conceptIDs))
	for _, id := range conceptIDs {
		wanted[id] = true
	}

	var out []*roadmap.Concept
	for _, c := range all {
		if wanted[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
