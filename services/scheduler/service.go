package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of a task's last run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskRunning  = errors.New("task is already running")
)

// Task is a named job run every Interval.
type Task struct {
	ID       string
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStatus reports the state of one task.
type TaskStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Interval   string     `json:"interval"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	LastStatus Status     `json:"lastStatus"`
	LastError  string     `json:"lastError,omitempty"`
}

type taskState struct {
	lastRunAt  time.Time
	lastStatus Status
	lastError  string
}

// Service manages scheduled task execution
type Service struct {
	tasks         []Task
	checkInterval time.Duration
	log           *zap.SugaredLogger
	now           func() time.Time

	// Runtime state
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskMu      sync.RWMutex
	taskRunning map[string]bool
	state       map[string]taskState
}

// NewService creates a scheduler. Tasks with a zero interval are only run
// through RunTaskNow.
func NewService(tasks []Task, checkInterval time.Duration, log *zap.SugaredLogger) *Service {
	if checkInterval < time.Second {
		checkInterval = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	state := make(map[string]taskState, len(tasks))
	for _, t := range tasks {
		state[t.ID] = taskState{lastStatus: StatusPending}
	}
	return &Service{
		tasks:         tasks,
		checkInterval: checkInterval,
		log:           log,
		now:           time.Now,
		taskRunning:   make(map[string]bool),
		state:         state,
	}
}

// Start begins the scheduler background loop
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.schedulerLoop()

	s.log.Infow("scheduler started", "tasks", len(s.tasks), "check_interval", s.checkInterval)
}

// Stop cancels running tasks and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stopped before tasks finished")
	}

	s.running = false
}

func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks()
		}
	}
}

// checkAndRunTasks starts every task that is due
func (s *Service) checkAndRunTasks() {
	for _, task := range s.tasks {
		if !s.shouldRun(task) {
			continue
		}
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.executeTask(s.ctx, t)
		}(task)
	}
}

// shouldRun checks if a task is due to run. A task that never ran is due at
// the first check.
func (s *Service) shouldRun(task Task) bool {
	if task.Interval <= 0 {
		return false
	}

	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	if s.taskRunning[task.ID] {
		return false
	}
	last := s.state[task.ID].lastRunAt
	if last.IsZero() {
		return true
	}
	return s.now().Sub(last) >= task.Interval
}

// executeTask runs a task and records its outcome. It reports false when the
// task was already running.
func (s *Service) executeTask(ctx context.Context, task Task) bool {
	s.taskMu.Lock()
	if s.taskRunning[task.ID] {
		s.taskMu.Unlock()
		return false
	}
	s.taskRunning[task.ID] = true
	s.taskMu.Unlock()

	s.log.Debugw("executing task", "task", task.ID)
	err := task.Run(ctx)

	s.taskMu.Lock()
	st := taskState{lastRunAt: s.now().UTC(), lastStatus: StatusSuccess}
	if err != nil {
		st.lastStatus = StatusError
		st.lastError = err.Error()
		s.log.Warnw("task failed", "task", task.ID, "error", err)
	}
	s.state[task.ID] = st
	delete(s.taskRunning, task.ID)
	s.taskMu.Unlock()
	return true
}

// RunTaskNow runs a task synchronously regardless of its schedule.
func (s *Service) RunTaskNow(ctx context.Context, taskID string) error {
	for _, task := range s.tasks {
		if task.ID != taskID {
			continue
		}
		if !s.executeTask(ctx, task) {
			return ErrTaskRunning
		}
		return nil
	}
	return ErrTaskNotFound
}

// TaskStatus returns all tasks with their current status
func (s *Service) TaskStatus() []TaskStatus {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		st := s.state[task.ID]
		ts := TaskStatus{
			ID:         task.ID,
			Name:       task.Name,
			Interval:   task.Interval.String(),
			LastStatus: st.lastStatus,
			LastError:  st.lastError,
		}
		if task.Interval <= 0 {
			ts.Interval = "off"
		}
		if !st.lastRunAt.IsZero() {
			at := st.lastRunAt
			ts.LastRunAt = &at
		}
		if s.taskRunning[task.ID] {
			ts.LastStatus = StatusRunning
		}
		out = append(out, ts)
	}
	return out
}

// IsTaskRunning checks if a specific task is currently running
func (s *Service) IsTaskRunning(taskID string) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	return s.taskRunning[taskID]
}
