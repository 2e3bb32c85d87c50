package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/roadmap"
)

// handleEvents streams workflow progress as server-sent events. The stream
// closes after a terminal event. For a task that is already terminal a
// single status event is written immediately.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}

	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	var task *roadmap.Task
	err := s.withScope(ctx, func(scope *repo.Scope) error {
		t, err := scope.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		writeError(w, errStatus(err), "task not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if task.Status.Terminal() {
		writeSSE(w, "status", map[string]string{
			"task_id": task.TaskID,
			"status":  string(task.Status),
			"step":    string(task.CurrentStep),
		})
		flusher.Flush()
		return
	}

	events, cancel := s.bus.Subscribe(taskID)
	defer cancel()

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()

	// Initial status frame so clients see something before the first event.
	writeSSE(w, "status", map[string]string{
		"task_id": task.TaskID,
		"status":  string(task.Status),
		"step":    string(task.CurrentStep),
	})
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			writeSSE(w, string(event.Type), event)
			flusher.Flush()
			if event.Type.Terminal() {
				s.logger.Debug("event stream closed",
					zap.String("task_id", taskID),
					zap.String("event", string(event.Type)))
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
