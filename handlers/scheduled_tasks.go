package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"watchsync/services/scheduler"
)

type schedulerService interface {
	TaskStatus() []scheduler.TaskStatus
	RunTaskNow(ctx context.Context, taskID string) error
}

var _ schedulerService = (*scheduler.Service)(nil)

// ScheduledTasksHandler handles scheduled tasks API endpoints
type ScheduledTasksHandler struct {
	Service schedulerService
}

// NewScheduledTasksHandler creates a new scheduled tasks handler
func NewScheduledTasksHandler(service schedulerService) *ScheduledTasksHandler {
	return &ScheduledTasksHandler{Service: service}
}

// ListTasks returns all scheduled tasks with current status
// GET /api/tasks
func (h *ScheduledTasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.Service.TaskStatus()})
}

// RunTask runs a task immediately and waits for it
// POST /api/tasks/{taskID}/run
func (h *ScheduledTasksHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	switch err := h.Service.RunTaskNow(r.Context(), taskID); {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTaskRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.ListTasks(w, r)
	}
}
