package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"votebridge/pkg/data"
	"votebridge/pkg/reconciler"
)

// Built-in periodic task IDs
const (
	SweepTaskID     = "session-sweep"
	TallySyncTaskID = "tally-sync"
)

// Accepts both five-field and seconds-first specs
var taskParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TaskStatus represents the current state of a periodic task
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// Task is a periodic maintenance job
type Task struct {
	ID          string
	Name        string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Status      TaskStatus
	Error       error
	CronID      cron.EntryID
	ExecutionFn func(context.Context) error
}

// ScheduleTask adds a periodic task
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	cronID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(task)
	})
	if err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}

	task.CronID = cronID
	task.Status = TaskStatusPending
	task.NextRun = s.cron.Entry(cronID).Next
	s.tasks[task.ID] = task

	s.logger.Info("Task scheduled",
		zap.String("taskID", task.ID),
		zap.String("schedule", task.Schedule))

	return nil
}

// UnscheduleTask removes a periodic task
func (s *Scheduler) UnscheduleTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	s.cron.Remove(task.CronID)
	delete(s.tasks, taskID)

	s.logger.Info("Task unscheduled", zap.String("taskID", taskID))
	return nil
}

// ListTasks returns copies of all periodic tasks ordered by ID
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		t := *task
		t.NextRun = s.cron.Entry(task.CronID).Next
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks
}

// RunTask executes a registered task immediately on the caller's goroutine
func (s *Scheduler) RunTask(taskID string) error {
	s.mu.RLock()
	task, exists := s.tasks[taskID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	s.executeTask(task)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return task.Error
}

// Private methods

func (s *Scheduler) executeTask(task *Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.callTimeout)
	defer cancel()

	start := time.Now()

	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRun = start
	s.mu.Unlock()

	err := task.ExecutionFn(ctx)

	s.mu.Lock()
	if err != nil {
		task.Status = TaskStatusFailed
	} else {
		task.Status = TaskStatusComplete
	}
	task.Error = err
	s.mu.Unlock()

	s.record(func(m *SchedulerMetrics) { m.TasksRun++ })

	if err != nil {
		s.logger.Warn("Task execution failed",
			zap.String("taskID", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Task execution completed",
		zap.String("taskID", task.ID),
		zap.Duration("duration", time.Since(start)))
}

func validateTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if task.Schedule == "" {
		return fmt.Errorf("task schedule cannot be empty")
	}
	if task.ExecutionFn == nil {
		return fmt.Errorf("task execution function cannot be nil")
	}
	if _, err := taskParser.Parse(task.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}

// sweep drops finished sessions and arms jobs for persisted sessions the
// scheduler has not seen yet
func (s *Scheduler) sweep(ctx context.Context) error {
	s.pruneFinished()

	sessions, err := s.repo.ListSessions(ctx, data.SessionFilter{States: data.PendingStates()})
	if err != nil {
		return fmt.Errorf("listing pending sessions: %w", err)
	}

	s.mu.RLock()
	unseen := make([]*data.Session, 0, len(sessions))
	for _, session := range sessions {
		if _, known := s.sessions[session.ID]; !known {
			unseen = append(unseen, session)
		}
	}
	s.mu.RUnlock()

	if len(unseen) == 0 {
		return nil
	}
	s.RescheduleAll(ctx, unseen)
	return nil
}

// pruneFinished forgets sessions whose close job completed. Reconciled
// records are outside the sweep's states, so nothing re-arms them.
func (s *Scheduler) pruneFinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, sj := range s.sessions {
		if sj.close != nil && sj.close.info.State == JobDone && !sj.close.running {
			delete(s.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Debug("Pruned finished sessions", zap.Int("sessions", pruned))
	}
	return pruned
}

// syncTallies stores non-final result snapshots for active sessions
func (s *Scheduler) syncTallies(ctx context.Context) error {
	client, err := s.conn.Client()
	if err != nil {
		s.logger.Debug("Skipping tally sync", zap.Error(err))
		return nil
	}

	sessions, err := s.repo.ListSessions(ctx, data.SessionFilter{States: []data.State{data.StateActive}})
	if err != nil {
		return fmt.Errorf("listing active sessions: %w", err)
	}

	for _, session := range sessions {
		tally, err := client.GetTally(ctx, session.ID)
		if err != nil {
			s.logger.Warn("Failed to fetch live tally",
				zap.String("sessionID", session.ID),
				zap.Error(err))
			continue
		}

		merged := reconciler.Merge(session.ID, session.Choices, tally)
		if err := s.repo.SaveResult(ctx, &data.Result{
			SessionID:     session.ID,
			Counts:        merged.Counts,
			Discrepancies: merged.Discrepancies,
			RecordedAt:    s.clock.Now().UTC(),
		}); err != nil {
			s.logger.Warn("Failed to store tally snapshot",
				zap.String("sessionID", session.ID),
				zap.Error(err))
		}
	}
	return nil
}
