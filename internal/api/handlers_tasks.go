package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/danmuhub/internal/models"
)

// handleTaskAbort implements POST /tasks/{id}/abort. A cooperative abort
// cancels an active task's context, or else removes a still-queued task;
// failing both, force=true marks the record failed directly so an operator
// is never stuck with a task neither side will move.
func (s *Server) handleTaskAbort(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.tasks.Abort(id); err == nil {
		rw.JSON(http.StatusOK, map[string]string{"status": "aborting"})
		return
	}

	if err := s.tasks.CancelPending(r.Context(), id); err == nil {
		rw.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}

	if !force {
		rw.NotFound("task is not active or pending")
		return
	}

	rec, err := s.repo.GetTask(r.Context(), id)
	if err != nil || rec == nil {
		rw.NotFound("task not found")
		return
	}
	rec.Status = models.TaskFailed
	rec.Message = "force-aborted by operator"
	rec.UpdatedAt = time.Now()
	if err := s.repo.UpdateTask(r.Context(), rec); err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "force-aborted"})
}

func (s *Server) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	id := chi.URLParam(r, "id")
	if err := s.tasks.Pause(id); err != nil {
		rw.NotFound(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "pausing"})
}

func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	id := chi.URLParam(r, "id")
	if err := s.tasks.Resume(id); err != nil {
		rw.NotFound(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "resuming"})
}

// handleTaskExecution implements GET /tasks/{id}/execution. For a task id
// it returns the full execution record, as opposed to the summary list; for
// a scheduler task id it returns the bridge mapping
// {schedulerTaskId, executionTaskId?, status?}.
func (s *Server) handleTaskExecution(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	id := chi.URLParam(r, "id")
	rec, err := s.repo.GetTask(r.Context(), id)
	if err != nil {
		rw.Internal(err.Error())
		return
	}
	if rec == nil {
		bridge, err := s.repo.GetSchedulerTask(r.Context(), id)
		if err != nil || bridge == nil {
			rw.NotFound("task not found")
			return
		}
		resp := map[string]any{"schedulerTaskId": bridge.ID}
		if bridge.ExecutionTaskID != nil {
			resp["executionTaskId"] = *bridge.ExecutionTaskID
			if exec, err := s.repo.GetTask(r.Context(), *bridge.ExecutionTaskID); err == nil && exec != nil {
				resp["status"] = exec.Status
			}
		}
		rw.JSON(http.StatusOK, resp)
		return
	}
	rw.JSON(http.StatusOK, rec)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	statusFilter := r.URL.Query().Get("status")
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	tasks, err := s.repo.ListTasks(r.Context(), statusFilter, limit, offset)
	if err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, tasks)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	id := chi.URLParam(r, "id")
	if err := s.repo.DeleteTask(r.Context(), id); err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}
