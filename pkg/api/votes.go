package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"votebridge/pkg/data"
	"votebridge/pkg/ledger"
	"votebridge/pkg/votemode"
)

// castVoteRequest accepts choiceId as shorthand for a single choice
type castVoteRequest struct {
	SessionID string   `json:"sessionId" binding:"required"`
	VoterID   string   `json:"voterId" binding:"required"`
	ChoiceID  string   `json:"choiceId"`
	Choices   []string `json:"choices"`
	Ranks     []uint64 `json:"ranks"`
	Weight    uint64   `json:"weight"`
}

func (r castVoteRequest) vote() ledger.Vote {
	choices := r.Choices
	if len(choices) == 0 && r.ChoiceID != "" {
		choices = []string{r.ChoiceID}
	}
	return ledger.NormalizeVote(ledger.Vote{
		SessionID: r.SessionID,
		VoterID:   r.VoterID,
		Choices:   choices,
		Ranks:     r.Ranks,
		Weight:    r.Weight,
	})
}

func (s *Server) castVote(c *gin.Context) {
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	vote := req.vote()

	// Shape errors never reach the ledger
	if err := ledger.ValidateBasic(vote); err != nil {
		s.fail(c, err)
		return
	}
	if !s.limiter.Allow("voter:" + vote.SessionID + "/" + vote.VoterID) {
		s.fail(c, errRateLimited)
		return
	}

	ctx := c.Request.Context()
	record, err := s.sessionRecord(ctx, vote.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if record != nil {
		if err := ledger.ValidateShape(record.Mode, record.MaxChoices, vote); err != nil {
			s.fail(c, err)
			return
		}
	}

	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	if record == nil {
		code, err := client.GetMode(ctx, vote.SessionID)
		if err != nil {
			s.fail(c, err)
			return
		}
		mode, err := votemode.Decode(code)
		if err != nil {
			s.fail(c, err)
			return
		}
		if err := ledger.ValidateShape(mode, 0, vote); err != nil {
			s.fail(c, err)
			return
		}
	}

	receipt, err := client.CastVote(ctx, vote)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"transactionHash": receipt.TxHash})
}

// sessionRecord returns the stored session, or nil when none is stored
func (s *Server) sessionRecord(ctx context.Context, id string) (*data.Session, error) {
	if s.deps.Repo == nil {
		return nil, nil
	}
	record, err := s.deps.Repo.GetSession(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, nil
	}
	return record, err
}

func (s *Server) hasVoted(c *gin.Context) {
	client, err := s.deps.Connector.Client()
	if err != nil {
		s.fail(c, err)
		return
	}

	voted, err := client.HasVoted(c.Request.Context(), c.Param("sessionId"), c.Param("voterId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"hasVoted": voted})
}
