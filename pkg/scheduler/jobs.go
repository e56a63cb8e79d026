package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"votebridge/pkg/data"
	"votebridge/pkg/ledger"
)

// JobKind distinguishes the two transitions of a session
type JobKind string

const (
	KindOpen  JobKind = "open"
	KindClose JobKind = "close"
)

// JobState is the position of a job in the session lifecycle
type JobState string

const (
	JobPendingOpen  JobState = "pending_open"
	JobFiredOpen    JobState = "fired_open"
	JobPendingClose JobState = "pending_close"
	JobFiredClose   JobState = "fired_close"
	JobDone         JobState = "done"
	JobFailed       JobState = "failed"
	JobCancelled    JobState = "cancelled"
	JobExpired      JobState = "expired"
)

func (s JobState) pending() bool {
	return s == JobPendingOpen || s == JobPendingClose
}

// JobInfo describes a job for introspection
type JobInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Kind         JobKind   `json:"kind"`
	State        JobState  `json:"state"`
	FireAt       time.Time `json:"fireAt"`
	FiredAt      time.Time `json:"firedAt,omitempty"`
	WriteSkipped bool      `json:"writeSkipped"`
	Error        string    `json:"error,omitempty"`
}

type job struct {
	info    JobInfo
	session *data.Session
	timer   *clock.Timer
	running bool
}

func (j *job) active() bool {
	return j.info.State.pending() || j.running
}

type sessionJobs struct {
	open  *job
	close *job
}

func (sj *sessionJobs) jobs() []*job {
	out := make([]*job, 0, 2)
	if sj.open != nil {
		out = append(out, sj.open)
	}
	if sj.close != nil {
		out = append(out, sj.close)
	}
	return out
}

func (sj *sessionJobs) stopTimers() {
	for _, j := range sj.jobs() {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
}

// ScheduleOpen arms the open job for a session. A start time in the past
// fires immediately. Scheduling a session whose open job is still pending
// is a no-op.
func (s *Scheduler) ScheduleOpen(ctx context.Context, session *data.Session) error {
	if err := checkSession(ctx, session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	sj := s.entry(session.ID)
	if sj.open != nil && sj.open.active() {
		return nil
	}

	j := s.newJob(KindOpen, session, session.StartTime)
	sj.open = j
	s.arm(j, s.fireOpen)
	return nil
}

// ScheduleClose arms the close job for a session at its end time. A zero
// or past end time fires immediately.
func (s *Scheduler) ScheduleClose(ctx context.Context, session *data.Session) error {
	if err := checkSession(ctx, session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	s.armCloseLocked(session)
	return nil
}

// RescheduleAll re-arms jobs for sessions loaded from storage and returns
// how many were armed. Opened sessions past their end time are closed right
// away; the close job checks the ledger before writing. A session that never
// opened and whose window has elapsed is only closed if the ledger already
// has it active, otherwise it is marked expired and never registered.
func (s *Scheduler) RescheduleAll(ctx context.Context, sessions []*data.Session) int {
	armed := 0
	for _, session := range sessions {
		if session == nil || session.State.Done() {
			continue
		}

		var err error
		switch {
		case !session.State.Opened() && s.windowElapsed(session):
			var active bool
			active, err = s.ledgerActive(ctx, session.ID)
			if err == nil && !active {
				s.expire(session)
				continue
			}
			if err == nil {
				// registered before a restart but never recorded as opened
				s.advance(ctx, session.ID, data.StateActive)
				err = s.ScheduleClose(ctx, session)
			}
		case !session.State.Opened():
			err = s.ScheduleOpen(ctx, session)
		case session.State.Closed() || !session.EndTime.IsZero():
			err = s.ScheduleClose(ctx, session)
		default:
			// open-ended; closed by an explicit end call
			continue
		}
		if err != nil {
			s.logger.Warn("Failed to reschedule session",
				zap.String("sessionID", session.ID),
				zap.Error(err))
			continue
		}
		armed++
	}

	s.logger.Info("Rescheduled sessions",
		zap.Int("candidates", len(sessions)),
		zap.Int("armed", armed))

	return armed
}

// Cancel stops the unfired jobs of a session. It reports whether any job
// was cancelled. Jobs already talking to the ledger run to completion.
func (s *Scheduler) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.sessions[sessionID]
	if !ok {
		return false
	}

	cancelled := 0
	for _, j := range sj.jobs() {
		if !j.info.State.pending() || j.running {
			continue
		}
		if j.timer != nil {
			j.timer.Stop()
		}
		j.info.State = JobCancelled
		cancelled++
	}

	if cancelled > 0 {
		s.record(func(m *SchedulerMetrics) { m.JobsCancelled += int64(cancelled) })
		s.logger.Info("Session jobs cancelled",
			zap.String("sessionID", sessionID),
			zap.Int("jobs", cancelled))
	}
	return cancelled > 0
}

// Jobs returns the jobs known for a session, open before close
func (s *Scheduler) Jobs(sessionID string) []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, ok := s.sessions[sessionID]
	if !ok {
		return []JobInfo{}
	}
	out := make([]JobInfo, 0, 2)
	for _, j := range sj.jobs() {
		out = append(out, j.info)
	}
	return out
}

// Private methods

func checkSession(ctx context.Context, session *data.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidSession)
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return nil
}

func (s *Scheduler) windowElapsed(session *data.Session) bool {
	return !session.EndTime.IsZero() && !session.EndTime.After(s.clock.Now())
}

func (s *Scheduler) ledgerActive(ctx context.Context, sessionID string) (bool, error) {
	client, err := s.conn.Client()
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	active, err := client.IsActive(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("checking session state: %w", err)
	}
	return active, nil
}

// expire records that the session's window passed before it was opened, so
// the sweep does not look at it again
func (s *Scheduler) expire(session *data.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj := s.entry(session.ID)
	if sj.open != nil && sj.open.active() {
		return
	}
	j := s.newJob(KindOpen, session, session.StartTime)
	j.info.State = JobExpired
	j.info.Error = "window elapsed before the session was opened"
	sj.open = j

	s.logger.Warn("Skipping session whose window has elapsed",
		zap.String("sessionID", session.ID),
		zap.Time("endTime", session.EndTime))
}

func (s *Scheduler) entry(sessionID string) *sessionJobs {
	sj, ok := s.sessions[sessionID]
	if !ok {
		sj = &sessionJobs{}
		s.sessions[sessionID] = sj
	}
	return sj
}

func (s *Scheduler) newJob(kind JobKind, session *data.Session, fireAt time.Time) *job {
	state := JobPendingOpen
	if kind == KindClose {
		state = JobPendingClose
	}
	return &job{
		info: JobInfo{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Kind:      kind,
			State:     state,
			FireAt:    fireAt,
		},
		session: session.Clone(),
	}
}

// armCloseLocked must be called with mu held
func (s *Scheduler) armCloseLocked(session *data.Session) {
	sj := s.entry(session.ID)
	if sj.close != nil && sj.close.active() {
		return
	}
	j := s.newJob(KindClose, session, session.EndTime)
	sj.close = j
	s.arm(j, s.fireClose)
}

// arm must be called with mu held
func (s *Scheduler) arm(j *job, fire func(*job)) {
	s.record(func(m *SchedulerMetrics) { m.JobsArmed++ })

	delay := j.info.FireAt.Sub(s.clock.Now())
	s.logger.Debug("Job armed",
		zap.String("sessionID", j.info.SessionID),
		zap.String("kind", string(j.info.Kind)),
		zap.Duration("delay", delay))

	if delay <= 0 {
		s.dispatch(func() { fire(j) })
		return
	}

	j.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if j.info.State.pending() {
			s.dispatch(func() { fire(j) })
		}
	})
}

// begin claims a pending job for execution
func (s *Scheduler) begin(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !j.info.State.pending() || j.running {
		return false
	}
	j.running = true
	j.info.FiredAt = s.clock.Now()
	return true
}

func (s *Scheduler) finish(j *job, state JobState, skipped bool, err error) {
	s.mu.Lock()
	j.info.State = state
	j.info.WriteSkipped = j.info.WriteSkipped || skipped
	if err != nil {
		j.info.Error = err.Error()
	}
	if state != JobFiredClose {
		j.running = false
	}
	s.mu.Unlock()

	s.record(func(m *SchedulerMetrics) {
		switch state {
		case JobFiredOpen, JobFiredClose:
			m.JobsFired++
			if skipped {
				m.WritesSkipped++
			}
		case JobFailed:
			m.JobsFailed++
		}
	})
}

func (s *Scheduler) fireOpen(j *job) {
	if !s.begin(j) {
		return
	}

	start := time.Now()
	sessionID := j.info.SessionID
	ctx, cancel := s.callContext()
	defer cancel()

	skipped, err := s.open(ctx, j.session)
	s.observeLatency(time.Since(start))
	if err != nil {
		// Registration may be partially applied; an operator decides.
		s.logger.Error("Session open failed",
			zap.String("sessionID", sessionID),
			zap.String("jobID", j.info.ID),
			zap.Error(err))
		s.finish(j, JobFailed, false, err)
		return
	}

	s.advance(ctx, sessionID, data.StateActive)
	s.finish(j, JobFiredOpen, skipped, nil)

	s.logger.Info("Session opened",
		zap.String("sessionID", sessionID),
		zap.Bool("writeSkipped", skipped))

	if j.session.EndTime.IsZero() {
		return
	}
	s.mu.Lock()
	if !s.stopped {
		s.armCloseLocked(j.session)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fireClose(j *job) {
	if !s.begin(j) {
		return
	}

	start := time.Now()
	sessionID := j.info.SessionID
	ctx, cancel := s.callContext()
	defer cancel()

	skipped, err := s.close(ctx, sessionID)
	s.observeLatency(time.Since(start))
	if err != nil {
		s.logger.Error("Session close failed",
			zap.String("sessionID", sessionID),
			zap.String("jobID", j.info.ID),
			zap.Error(err))
		s.finish(j, JobFailed, false, err)
		return
	}

	s.advance(ctx, sessionID, data.StateEnded)
	s.finish(j, JobFiredClose, skipped, nil)

	s.logger.Info("Session closed",
		zap.String("sessionID", sessionID),
		zap.Bool("writeSkipped", skipped))

	if s.rec != nil {
		if _, err := s.rec.Reconcile(ctx, sessionID); err != nil {
			s.logger.Error("Reconciliation failed",
				zap.String("sessionID", sessionID),
				zap.Error(err))
			s.finish(j, JobFailed, false, err)
			return
		}
	}
	s.finish(j, JobDone, false, nil)
}

// open registers the session unless the ledger already has it active
func (s *Scheduler) open(ctx context.Context, session *data.Session) (bool, error) {
	client, err := s.conn.Client()
	if err != nil {
		return false, err
	}

	active, err := client.IsActive(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("checking session state: %w", err)
	}
	if active {
		return true, nil
	}

	params, err := session.Params()
	if err != nil {
		return false, fmt.Errorf("building session params: %w", err)
	}
	if _, err := client.CreateSession(ctx, params); err != nil {
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			return true, nil
		}
		return false, fmt.Errorf("creating session: %w", err)
	}
	return false, nil
}

// close ends the session unless the ledger already has it inactive
func (s *Scheduler) close(ctx context.Context, sessionID string) (bool, error) {
	client, err := s.conn.Client()
	if err != nil {
		return false, err
	}

	active, err := client.IsActive(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("checking session state: %w", err)
	}
	if !active {
		return true, nil
	}

	if _, err := client.EndSession(ctx, sessionID); err != nil {
		if errors.Is(err, ledger.ErrNotActive) {
			return true, nil
		}
		return false, fmt.Errorf("ending session: %w", err)
	}
	return false, nil
}

// advance records a lifecycle transition when the session is persisted
func (s *Scheduler) advance(ctx context.Context, sessionID string, to data.State) {
	if s.repo == nil {
		return
	}
	if _, err := s.repo.UpdateState(ctx, sessionID, to); err != nil && !errors.Is(err, data.ErrNotFound) {
		s.logger.Warn("Failed to record session state",
			zap.String("sessionID", sessionID),
			zap.String("state", string(to)),
			zap.Error(err))
	}
}
