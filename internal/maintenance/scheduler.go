// Package maintenance runs periodic housekeeping (flush and retention) on cron schedules.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrUnknownTask is returned by RunTask for a name that was never registered.
var ErrUnknownTask = errors.New("unknown maintenance task")

// Task is a unit of scheduled housekeeping.
type Task interface {
	Name() string
	Description() string
	Execute(ctx context.Context) error
}

// TaskStatus reports the schedule and last outcome of a task.
type TaskStatus struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Schedule     string        `json:"schedule"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
}

// Scheduler executes registered tasks on their cron schedules. Overlapping runs of the
// same task are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.RWMutex
	tasks   map[string]Task
	status  map[string]TaskStatus
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates a scheduler. Schedules use the standard five-field cron syntax
// and descriptors such as "@every 5m" or "@daily".
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		tasks:  make(map[string]Task),
		status: make(map[string]TaskStatus),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds task under schedule. Registering a name twice is an error.
func (s *Scheduler) Register(task Task, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := task.Name()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s already registered", name)
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.execute(s.ctx, name, task) }); err != nil {
		return fmt.Errorf("schedule task %s (%q): %w", name, schedule, err)
	}
	s.tasks[name] = task
	s.status[name] = TaskStatus{Name: name, Description: task.Description(), Schedule: schedule}
	s.logger.Debug("registered maintenance task", zap.String("task", name), zap.String("schedule", schedule))
	return nil
}

// Start begins running tasks on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("maintenance scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop halts the schedule and waits for running tasks until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		s.logger.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("waiting for maintenance tasks: %w", ctx.Err())
	}
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow executes every registered task once, in name order, and returns their errors joined.
func (s *Scheduler) RunNow(ctx context.Context) error {
	var errs []error
	for _, name := range s.names() {
		if err := s.RunTask(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunTask executes the named task immediately.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.execute(ctx, name, task)
}

// Status returns the status of every task, sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) execute(ctx context.Context, name string, task Task) error {
	start := time.Now()
	err := task.Execute(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	st := s.status[name]
	st.LastRun = start
	st.LastDuration = elapsed
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.status[name] = st
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("maintenance task failed", zap.String("task", name), zap.Duration("took", elapsed), zap.Error(err))
		return err
	}
	s.logger.Debug("maintenance task completed", zap.String("task", name), zap.Duration("took", elapsed))
	return nil
}
