// Package scheduler drives session lifecycles on the ledger from wall-clock
// start and end times.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"votebridge/pkg/config"
	"votebridge/pkg/connector"
	"votebridge/pkg/data"
	"votebridge/pkg/reconciler"
	"votebridge/pkg/utils"
)

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrInvalidSession = errors.New("invalid session for scheduling")
)

// DefaultCallTimeout bounds a single ledger call made from a job
const DefaultCallTimeout = 2 * time.Minute

// Scheduler arms one-shot open and close jobs per session and runs periodic
// maintenance tasks on a cron.
type Scheduler struct {
	conn        *connector.Connector
	rec         *reconciler.Reconciler
	repo        data.Repository
	cron        *cron.Cron
	clock       clock.Clock
	tasks       map[string]*Task
	sessions    map[string]*sessionJobs
	config      *config.SchedConfig
	logger      *zap.Logger
	metrics     *SchedulerMetrics
	workerPool  chan struct{}
	callTimeout time.Duration
	inflight    sync.WaitGroup
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
}

// SchedulerMetrics tracks scheduler activity
type SchedulerMetrics struct {
	JobsArmed      int64
	JobsFired      int64
	JobsFailed     int64
	JobsCancelled  int64
	WritesSkipped  int64
	TasksRun       int64
	AverageLatency time.Duration
	LastUpdate     time.Time
	mu             sync.RWMutex
}

// Stats is a snapshot of SchedulerMetrics
type Stats struct {
	JobsArmed      int64         `json:"jobsArmed"`
	JobsFired      int64         `json:"jobsFired"`
	JobsFailed     int64         `json:"jobsFailed"`
	JobsCancelled  int64         `json:"jobsCancelled"`
	WritesSkipped  int64         `json:"writesSkipped"`
	TasksRun       int64         `json:"tasksRun"`
	PendingJobs    int           `json:"pendingJobs"`
	AverageLatency time.Duration `json:"averageLatency"`
	LastUpdate     time.Time     `json:"lastUpdate"`
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock used for one-shot timers
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithCallTimeout bounds each ledger call made by a job
func WithCallTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// New creates a scheduler. repo may be nil, in which case lifecycle state
// is tracked on the ledger only and the periodic tasks have nothing to scan.
func New(conn *connector.Connector, rec *reconciler.Reconciler, repo data.Repository, cfg *config.SchedConfig, logger *zap.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = 1
	}

	s := &Scheduler{
		conn:        conn,
		rec:         rec,
		repo:        repo,
		clock:       clock.New(),
		tasks:       make(map[string]*Task),
		sessions:    make(map[string]*sessionJobs),
		config:      cfg,
		logger:      logger,
		metrics:     &SchedulerMetrics{},
		workerPool:  make(chan struct{}, workers),
		callTimeout: DefaultCallTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(
		cron.WithParser(taskParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logger)))),
	)

	return s
}

// Start registers the configured periodic tasks and starts the cron
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", cap(s.workerPool)),
		zap.String("sweepSchedule", s.config.SweepSchedule),
		zap.String("tallySyncSchedule", s.config.TallySyncSchedule))

	if s.repo != nil {
		if s.config.SweepSchedule != "" {
			if err := s.ScheduleTask(&Task{
				ID:          SweepTaskID,
				Name:        "Re-arm pending sessions",
				Schedule:    s.config.SweepSchedule,
				ExecutionFn: s.sweep,
			}); err != nil {
				return err
			}
		}
		if s.config.TallySyncSchedule != "" {
			if err := s.ScheduleTask(&Task{
				ID:          TallySyncTaskID,
				Name:        "Snapshot live tallies",
				Schedule:    s.config.TallySyncSchedule,
				ExecutionFn: s.syncTallies,
			}); err != nil {
				return err
			}
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron and every unfired timer, then waits for running jobs
// until ctx is done. Ledger calls already submitted are not interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")

	s.mu.Lock()
	s.stopped = true
	for _, sj := range s.sessions {
		sj.stopTimers()
	}
	s.mu.Unlock()

	// Unblocks jobs still waiting on a worker slot
	s.cancel()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current scheduler statistics
func (s *Scheduler) Stats() Stats {
	pending := 0
	s.mu.RLock()
	for _, sj := range s.sessions {
		for _, j := range sj.jobs() {
			if j.info.State.pending() {
				pending++
			}
		}
	}
	s.mu.RUnlock()

	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return Stats{
		JobsArmed:      s.metrics.JobsArmed,
		JobsFired:      s.metrics.JobsFired,
		JobsFailed:     s.metrics.JobsFailed,
		JobsCancelled:  s.metrics.JobsCancelled,
		WritesSkipped:  s.metrics.WritesSkipped,
		TasksRun:       s.metrics.TasksRun,
		PendingJobs:    pending,
		AverageLatency: s.metrics.AverageLatency,
		LastUpdate:     s.metrics.LastUpdate,
	}
}

// Private methods

// dispatch runs fn on a worker without blocking the caller. It must be
// called with mu held.
func (s *Scheduler) dispatch(fn func()) bool {
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	utils.SafeGo(s.logger, func() {
		defer s.inflight.Done()

		select {
		case s.workerPool <- struct{}{}:
			defer func() { <-s.workerPool }()
		case <-s.ctx.Done():
			return
		}

		fn()
	})
	return true
}

func (s *Scheduler) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.callTimeout)
}

func (s *Scheduler) record(update func(m *SchedulerMetrics)) {
	s.metrics.mu.Lock()
	update(s.metrics)
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()
}

func (s *Scheduler) observeLatency(d time.Duration) {
	s.record(func(m *SchedulerMetrics) {
		if m.AverageLatency == 0 {
			m.AverageLatency = d
			return
		}
		m.AverageLatency = (m.AverageLatency*9 + d) / 10
	})
}
