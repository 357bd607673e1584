package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"watchsync/handlers"
	"watchsync/services/scheduler"
)

type fakeScheduler struct {
	ran []string
	err error
}

func (f *fakeScheduler) TaskStatus() []scheduler.TaskStatus {
	return []scheduler.TaskStatus{{ID: scheduler.TaskContinueWatchingRefresh, Interval: "15m0s", LastStatus: scheduler.StatusPending}}
}

func (f *fakeScheduler) RunTaskNow(_ context.Context, id string) error {
	f.ran = append(f.ran, id)
	return f.err
}

func TestScheduledTasks(t *testing.T) {
	svc := &fakeScheduler{}
	h := handlers.NewScheduledTasksHandler(svc)

	rec := httptest.NewRecorder()
	h.ListTasks(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), scheduler.TaskContinueWatchingRefresh)

	run := func(id string) int {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/run", nil), map[string]string{"taskID": id})
		rec := httptest.NewRecorder()
		h.RunTask(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, run(scheduler.TaskContinueWatchingRefresh))
	svc.err = scheduler.ErrTaskRunning
	assert.Equal(t, http.StatusConflict, run(scheduler.TaskContinueWatchingRefresh))
	svc.err = scheduler.ErrTaskNotFound
	assert.Equal(t, http.StatusNotFound, run("nope"))
	assert.Len(t, svc.ran, 3)
}
