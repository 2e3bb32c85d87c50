package server

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ string, job queue.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return fmt.Sprintf("q-%d", len(f.jobs)), nil
}

func (f *fakeEnqueuer) all() []queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

type fakeReviewer struct {
	mu        sync.Mutex
	taskIDs   []string
	decisions []roadmap.ReviewDecision
	err       error
}

func (f *fakeReviewer) Review(_ context.Context, taskID string, decision roadmap.ReviewDecision, _ *roadmap.Framework) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskIDs = append(f.taskIDs, taskID)
	f.decisions = append(f.decisions, decision)
	return f.err
}

type harness struct {
	server   *Server
	mock     sqlmock.Sqlmock
	jobs     *fakeEnqueuer
	reviewer *fakeReviewer
	bus      *emit.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < 8; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	jobs := &fakeEnqueuer{}
	reviewer := &fakeReviewer{}
	bus := emit.NewBus(16)
	repos := repo.NewFactoryWithDB(sqlx.NewDb(db, "sqlmock"))
	srv := New(Config{SSEHeartbeat: 50 * time.Millisecond}, repos, jobs, reviewer, bus, zap.NewNop())
	return &harness{server: srv, mock: mock, jobs: jobs, reviewer: reviewer, bus: bus}
}

const frameworkJSON = `{
	"title": "Learn Go",
	"stages": [{
		"order": 1,
		"title": "Basics",
		"modules": [{
			"title": "Syntax",
			"concepts": [{"id": "c1", "name": "Variables", "estimated_hours": 2}]
		}]
	}],
	"total_estimated_hours": 2,
	"recommended_completion_weeks": 1
}`

func (h *harness) expectTask(task *roadmap.Task) {
	request, _ := json.Marshal(task.UserRequest)
	rows := sqlmock.NewRows([]string{
		"task_id", "user_id", "task_type", "user_request", "status",
		"current_step", "roadmap_id", "queue_task_id", "error_message",
		"created_at", "updated_at",
	}).AddRow(task.TaskID, task.UserID, task.TaskType, request,
		string(task.Status), string(task.CurrentStep), task.RoadmapID,
		task.QueueTaskID, task.ErrorMessage, time.Now(), time.Now())
	h.mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnRows(rows)
}

func (h *harness) expectRoadmap(roadmapID, userID string) {
	rows := sqlmock.NewRows([]string{
		"roadmap_id", "task_id", "user_id", "framework_data", "created_at", "updated_at",
	}).AddRow(roadmapID, "task-1", userID, frameworkJSON, time.Now(), time.Now())
	h.mock.ExpectQuery(`SELECT roadmap_id, task_id`).WillReturnRows(rows)
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectExec(`INSERT INTO tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE tasks SET queue_task_id`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/tasks", map[string]interface{}{
		"user_id": "u1",
		"request": map[string]interface{}{
			"goal":                  "learn go",
			"target_hours_per_week": 5,
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp roadmap.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID == "" || resp.Status != roadmap.StatusPending {
		t.Errorf("task = %+v", resp)
	}
	if resp.TaskType != roadmap.TaskTypeGenerate {
		t.Errorf("task_type = %q", resp.TaskType)
	}

	jobs := h.jobs.all()
	if len(jobs) != 1 || jobs[0].Type != queue.JobWorkflowRun || jobs[0].TaskID != resp.TaskID {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestCreateTaskClientID(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectExec(`INSERT INTO tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE tasks SET queue_task_id`).WillReturnResult(sqlmock.NewResult(0, 1))

	const clientID = "7f8c1b44-9c2e-4a31-b5fa-1d2c3e4f5a6b"
	rec := h.do(t, http.MethodPost, "/tasks", map[string]interface{}{
		"user_id": "u1",
		"task_id": clientID,
		"request": map[string]interface{}{"goal": "learn go"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp roadmap.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != clientID {
		t.Errorf("task_id = %q, want %q", resp.TaskID, clientID)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	h := newHarness(t)

	t.Run("missing goal", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/tasks", map[string]interface{}{
			"user_id": "u1",
			"request": map[string]interface{}{},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/tasks", map[string]interface{}{
			"request": map[string]interface{}{"goal": "learn go"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/tasks", map[string]interface{}{
			"user_id": "u1",
			"request": map[string]interface{}{"goal": "learn go"},
			"bogus":   true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	if jobs := h.jobs.all(); len(jobs) != 0 {
		t.Errorf("invalid requests were enqueued: %+v", jobs)
	}
}

func TestGetTask(t *testing.T) {
	h := newHarness(t)
	h.expectTask(&roadmap.Task{
		TaskID: "task-1", UserID: "u1", TaskType: roadmap.TaskTypeGenerate,
		Status: roadmap.StatusCompleted, CurrentStep: roadmap.StepDone,
		RoadmapID: "rm-1",
	})
	h.expectRoadmap("rm-1", "u1")

	rec := h.do(t, http.MethodGet, "/tasks/task-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		roadmap.Task
		Framework *roadmap.Framework `json:"framework"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "task-1" || resp.Framework == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Framework.Title != "Learn Go" {
		t.Errorf("framework title = %q", resp.Framework.Title)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnError(sql.ErrNoRows)

	rec := h.do(t, http.MethodGet, "/tasks/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReview(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/tasks/task-1/review", map[string]interface{}{
		"decision": "approve",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(h.reviewer.taskIDs) != 1 || h.reviewer.taskIDs[0] != "task-1" {
		t.Errorf("reviewed tasks = %v", h.reviewer.taskIDs)
	}
	if h.reviewer.decisions[0] != roadmap.DecisionApprove {
		t.Errorf("decision = %q", h.reviewer.decisions[0])
	}
}

func TestReviewValidation(t *testing.T) {
	h := newHarness(t)

	t.Run("bad decision", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/tasks/task-1/review", map[string]interface{}{
			"decision": "maybe",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("edit without framework", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/tasks/task-1/review", map[string]interface{}{
			"decision": "edit",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	if len(h.reviewer.taskIDs) != 0 {
		t.Errorf("invalid reviews reached the executor: %v", h.reviewer.taskIDs)
	}
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	h.expectRoadmap("rm-1", "u1")
	h.mock.ExpectExec(`INSERT INTO tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE tasks SET queue_task_id`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/roadmaps/rm-1/retry", map[string]interface{}{
		"kinds": []string{"tutorial"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	jobs := h.jobs.all()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	job := jobs[0]
	if job.Type != queue.JobContentFanout || job.RoadmapID != "rm-1" {
		t.Errorf("job = %+v", job)
	}
	if !job.OnlyFailed {
		t.Error("retry should default to only_failed")
	}
	if len(job.Kinds) != 1 || job.Kinds[0] != roadmap.KindTutorial {
		t.Errorf("kinds = %v", job.Kinds)
	}

	var resp roadmap.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskType != roadmap.TaskTypeRetry || resp.UserID != "u1" {
		t.Errorf("task = %+v", resp)
	}
	if job.TaskID != resp.TaskID {
		t.Errorf("job task %q != response task %q", job.TaskID, resp.TaskID)
	}
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t)
	h.expectRoadmap("rm-1", "u1")
	h.mock.ExpectExec(`INSERT INTO tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE tasks SET queue_task_id`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/roadmaps/rm-1/concepts/c1/regenerate", map[string]interface{}{
		"instructions": "make the quiz harder",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	jobs := h.jobs.all()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	job := jobs[0]
	if job.Type != queue.JobContentFanout || job.Instructions != "make the quiz harder" {
		t.Errorf("job = %+v", job)
	}
	if len(job.ConceptIDs) != 1 || job.ConceptIDs[0] != "c1" {
		t.Errorf("concept_ids = %v", job.ConceptIDs)
	}
}

func TestRegenerateValidation(t *testing.T) {
	h := newHarness(t)

	t.Run("missing instructions", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/roadmaps/rm-1/concepts/c1/regenerate",
			map[string]interface{}{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("unknown concept", func(t *testing.T) {
		h.expectRoadmap("rm-1", "u1")
		rec := h.do(t, http.MethodPost, "/roadmaps/rm-1/concepts/nope/regenerate",
			map[string]interface{}{"instructions": "anything"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	if jobs := h.jobs.all(); len(jobs) != 0 {
		t.Errorf("invalid requests were enqueued: %+v", jobs)
	}
}

func TestEventsTerminalTask(t *testing.T) {
	h := newHarness(t)
	h.expectTask(&roadmap.Task{
		TaskID: "task-1", UserID: "u1", TaskType: roadmap.TaskTypeGenerate,
		Status: roadmap.StatusCompleted, CurrentStep: roadmap.StepDone,
	})

	rec := h.do(t, http.MethodGet, "/tasks/task-1/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: status") || !strings.Contains(body, `"completed"`) {
		t.Errorf("body = %q", body)
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t)
	h.expectTask(&roadmap.Task{
		TaskID: "task-live", UserID: "u1", TaskType: roadmap.TaskTypeGenerate,
		Status: roadmap.StatusProcessing, CurrentStep: roadmap.StepCurriculumDesign,
	})

	ts := httptest.NewServer(h.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tasks/task-live/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// Wait for the subscription before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for h.bus.SubscriberCount("task-live") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no subscriber registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.bus.Emit(emit.Event{Type: emit.NodeCompleted, WorkflowID: "task-live", NodeID: "validation"})
	h.bus.Emit(emit.Event{Type: emit.WorkflowCompleted, WorkflowID: "task-live"})

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{"status", string(emit.NodeCompleted), string(emit.WorkflowCompleted)}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestEventsWithoutBus(t *testing.T) {
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	srv := New(Config{}, repo.NewFactoryWithDB(sqlx.NewDb(db, "sqlmock")), &fakeEnqueuer{}, &fakeReviewer{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/tasks/task-1/events", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
