package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"votebridge/pkg/data"
	"votebridge/pkg/votemode"
)

type scheduleSessionRequest struct {
	SessionID  string     `json:"sessionId" binding:"required"`
	Choices    []string   `json:"choices" binding:"required,min=1"`
	VoteMode   string     `json:"voteMode" binding:"required"`
	MaxChoices int        `json:"maxChoices" binding:"min=0"`
	StartTime  *time.Time `json:"startTime"`
	EndTime    *time.Time `json:"endTime"`
}

func (s *Server) schedulingReady() error {
	if s.deps.Scheduler == nil || s.deps.Repo == nil {
		return fmt.Errorf("%w: scheduling is disabled", errUnavailable)
	}
	return nil
}

// scheduleSession persists a session and arms its lifecycle jobs. A missing
// start time means now.
func (s *Server) scheduleSession(c *gin.Context) {
	if err := s.schedulingReady(); err != nil {
		s.fail(c, err)
		return
	}

	var req scheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	mode, err := votemode.Parse(req.VoteMode)
	if err != nil {
		s.fail(c, err)
		return
	}

	start := time.Now().UTC()
	if req.StartTime != nil {
		start = req.StartTime.UTC()
	}
	var end time.Time
	if req.EndTime != nil {
		end = req.EndTime.UTC()
	}

	session, err := data.NewSession(req.SessionID, req.Choices, mode, req.MaxChoices, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Repo.SaveSession(ctx, session); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Scheduler.ScheduleOpen(ctx, session); err != nil {
		s.fail(c, err)
		return
	}

	s.logger.Info("Session scheduled",
		zap.String("requestID", requestID(c)),
		zap.String("sessionID", session.ID),
		zap.Time("start", start),
		zap.Time("end", end))

	ok(c, http.StatusAccepted, gin.H{
		"sessionId": session.ID,
		"jobs":      s.deps.Scheduler.Jobs(session.ID),
	})
}

func (s *Server) sessionSchedule(c *gin.Context) {
	if err := s.schedulingReady(); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"jobs": s.deps.Scheduler.Jobs(c.Param("id"))})
}

func (s *Server) cancelSchedule(c *gin.Context) {
	if err := s.schedulingReady(); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cancelled": s.deps.Scheduler.Cancel(c.Param("id"))})
}
