// Package scheduler runs periodic background tasks such as the follow-up
// sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evalite/evalite/internal/logging"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
}

// Config configures the scheduler
type Config struct {
	Timezone string // IANA name; invalid or empty means UTC
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config) *Scheduler {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		tz = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
	}
}

// Task is a handler run every Interval.
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	RunOnStart bool          `json:"run_on_start"`
	Handler    TaskHandler   `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// TaskHandler is the function executed for a task. now is the scheduled
// run time in the scheduler's timezone.
type TaskHandler func(ctx context.Context, now time.Time) error

// Register adds a task to the scheduler
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.ID)
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task already registered: %s", task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = task.Interval
	}

	next := s.now()
	if !task.RunOnStart {
		next = next.Add(task.Interval)
	}
	task.NextRun = &next

	s.tasks[task.ID] = task
	if s.started {
		s.startTask(task)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, task := range s.tasks {
		s.startTask(task)
	}
	logging.Info("Scheduler started with %d tasks (timezone %s)", len(s.tasks), s.timezone)
	return nil
}

// Stop cancels every task and waits for running handlers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Handlers take the lock to record results, so wait outside it.
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	logging.Info("Scheduler stopped")
}

func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*task.NextRun)
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.executeTask(ctx, task)
		}
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := s.now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	err := task.Handler(execCtx, now)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	next := s.now().Add(task.Interval)
	task.NextRun = &next
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logging.WithField("task", task.ID).WithError(err).Error("scheduled task failed")
	}
}

func (s *Scheduler) now() time.Time {
	return time.Now().In(s.timezone)
}

// RunNow executes a task synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	s.executeTask(ctx, task)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if task.LastError != "" {
		return fmt.Errorf("task %s: %s", taskID, task.LastError)
	}
	return nil
}

// GetTask returns a copy of a task's state.
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:      s.started,
		TotalTasks:   len(s.tasks),
		RunningTasks: len(s.running),
		Timezone:     s.timezone.String(),
	}
	for _, task := range s.tasks {
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool   `json:"started"`
	TotalTasks   int    `json:"total_tasks"`
	RunningTasks int    `json:"running_tasks"`
	TotalRuns    int64  `json:"total_runs"`
	TotalErrors  int64  `json:"total_errors"`
	Timezone     string `json:"timezone"`
}

// IntervalTask creates a task that runs at a fixed interval
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Interval: interval,
		Handler:  handler,
	}
}
