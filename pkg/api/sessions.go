package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"votebridge/pkg/data"
	"votebridge/pkg/ledger"
	"votebridge/pkg/reconciler"
	"votebridge/pkg/votemode"
)

type createSessionRequest struct {
	SessionID  string     `json:"sessionId" binding:"required"`
	Choices    []string   `json:"choices" binding:"required,min=1"`
	VoteMode   string     `json:"voteMode" binding:"required"`
	MaxChoices int        `json:"maxChoices" binding:"min=0"`
	EndTime    *time.Time `json:"endTime"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	mode, err := votemode.Parse(req.VoteMode)
	if err != nil {
		s.fail(c, err)
		return
	}
	code, err := votemode.Encode(mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	params := ledger.SessionParams{
		ID:         req.SessionID,
		Choices:    req.Choices,
		ModeCode:   code,
		MaxChoices: req.MaxChoices,
	}
	if req.EndTime != nil {
		params.EndTime = req.EndTime.UTC()
	}
	if params, err = ledger.NormalizeSession(params); err != nil {
		s.fail(c, err)
		return
	}

	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	receipt, err := client.CreateSession(c.Request.Context(), params)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.track(c.Request.Context(), req.SessionID, data.StateActive)

	ok(c, http.StatusCreated, gin.H{
		"transactionHash": receipt.TxHash,
		"blockNumber":     receipt.BlockNumber,
		"sessionId":       req.SessionID,
	})
}

func (s *Server) endSession(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	id := c.Param("id")
	receipt, err := client.EndSession(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.track(c.Request.Context(), id, data.StateEnded)

	ok(c, http.StatusOK, gin.H{
		"transactionHash": receipt.TxHash,
		"blockNumber":     receipt.BlockNumber,
	})
}

func (s *Server) sessionActive(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	active, err := client.IsActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"isActive": active})
}

func (s *Server) sessionVoteMode(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	code, err := client.GetMode(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	mode, err := votemode.Decode(code)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"voteMode": mode})
}

func (s *Server) sessionResults(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	choices, err := client.GetChoices(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	tally, err := client.GetTally(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}

	merged := reconciler.Merge(id, choices, tally)
	var total uint64
	for _, n := range merged.Counts {
		total += n
	}
	ok(c, http.StatusOK, gin.H{
		"results":       merged.Counts,
		"total":         total,
		"discrepancies": merged.Discrepancies,
	})
}

func (s *Server) sessionChoices(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	choices, err := client.GetChoices(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"choices": choices})
}

func (s *Server) reconcileSession(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	active, err := client.IsActive(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if active {
		s.fail(c, fmt.Errorf("%w: end %s before reconciling", errSessionActive, id))
		return
	}

	result, err := s.deps.Reconciler.Reconcile(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"result": result})
}

// track mirrors a direct ledger transition onto the stored record, if any
func (s *Server) track(ctx context.Context, id string, to data.State) {
	if s.deps.Repo == nil {
		return
	}
	_, err := s.deps.Repo.UpdateState(ctx, id, to)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		s.logger.Warn("Failed to record session state",
			zap.String("sessionID", id),
			zap.String("state", string(to)),
			zap.Error(err))
	}
}
