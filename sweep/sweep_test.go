package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/graph/store"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
	"github.com/dshills/pathweaver/workflow"
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

func newMockRepos(t *testing.T) (*repo.Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	return repo.NewFactoryWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func staleRows(tasks ...roadmap.Task) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"task_id", "user_id", "task_type", "user_request", "status",
		"current_step", "roadmap_id", "queue_task_id", "error_message",
		"created_at", "updated_at",
	})
	old := time.Now().Add(-48 * time.Hour)
	for _, task := range tasks {
		request, _ := json.Marshal(task.UserRequest)
		rows.AddRow(task.TaskID, task.UserID, task.TaskType, request,
			string(task.Status), string(task.CurrentStep), task.RoadmapID,
			task.QueueTaskID, task.ErrorMessage, old, old)
	}
	return rows
}

func stuckTask(id string) roadmap.Task {
	return roadmap.Task{
		TaskID: id, UserID: "u1", TaskType: roadmap.TaskTypeGenerate,
		Status: roadmap.StatusProcessing, CurrentStep: roadmap.StepCurriculumDesign,
	}
}

func TestSweepRecoversCheckpointedTasks(t *testing.T) {
	ctx := context.Background()
	repos, mock := newMockRepos(t)
	checkpoints := store.NewMemStore[workflow.State]()
	queueFake := &fakeEnqueuer{}

	if err := checkpoints.SaveStep(ctx, "stuck-1", 1, "curriculum_design",
		workflow.State{TaskID: "stuck-1"}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnRows(staleRows(stuckTask("stuck-1")))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tasks SET queue_task_id`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(Config{}, repos, queueFake, checkpoints, checkpoints, zap.NewNop())
	recovered, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	jobs := queueFake.all()
	if len(jobs) != 1 || jobs[0].Type != queue.JobWorkflowRun || jobs[0].TaskID != "stuck-1" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("db expectations: %v", err)
	}
}

func TestSweepFailsUncheckpointedTasks(t *testing.T) {
	ctx := context.Background()
	repos, mock := newMockRepos(t)
	checkpoints := store.NewMemStore[workflow.State]()
	queueFake := &fakeEnqueuer{}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnRows(staleRows(stuckTask("stuck-2")))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tasks SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(Config{}, repos, queueFake, checkpoints, checkpoints, zap.NewNop())
	recovered, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 0 {
		t.Errorf("recovered = %d, want 0", recovered)
	}
	if jobs := queueFake.all(); len(jobs) != 0 {
		t.Errorf("uncheckpointed task was enqueued: %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("db expectations: %v", err)
	}
}

func TestSweepRespectsLeases(t *testing.T) {
	ctx := context.Background()
	repos, mock := newMockRepos(t)
	checkpoints := store.NewMemStore[workflow.State]()
	queueFake := &fakeEnqueuer{}

	if err := checkpoints.SaveStep(ctx, "stuck-3", 1, "validation",
		workflow.State{TaskID: "stuck-3"}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	// Another sweeper already claimed the task.
	if ok, err := checkpoints.AcquireLease(ctx, "stuck-3", "other-sweeper", time.Hour); err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnRows(staleRows(stuckTask("stuck-3")))
	mock.ExpectRollback()

	s := New(Config{}, repos, queueFake, checkpoints, checkpoints, zap.NewNop())
	recovered, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 0 {
		t.Errorf("recovered = %d, want 0", recovered)
	}
	if jobs := queueFake.all(); len(jobs) != 0 {
		t.Errorf("leased task was enqueued: %+v", jobs)
	}
}

func TestSweepEmpty(t *testing.T) {
	ctx := context.Background()
	repos, mock := newMockRepos(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT task_id, user_id`).WillReturnRows(staleRows())
	mock.ExpectRollback()

	s := New(Config{}, repos, &fakeEnqueuer{}, store.NewMemStore[workflow.State](), store.NewMemStore[workflow.State](), zap.NewNop())
	recovered, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 0 {
		t.Errorf("recovered = %d, want 0", recovered)
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}.normalize()
	if cfg.MaxAge != 24*time.Hour || cfg.Limit != 100 || cfg.LeaseTTL != 10*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
}
