// Package ledger defines the call surface of the voting contract and its
// live and in-memory implementations.
package ledger

import (
	"context"
	"errors"
	"time"

	"votebridge/pkg/votemode"
)

// Ledger-state and validation errors. All of them are terminal.
var (
	ErrInvalidMode       = errors.New("invalid vote mode")
	ErrAlreadyRegistered = errors.New("session already registered")
	ErrNotFound          = errors.New("session not found")
	ErrNotActive         = errors.New("session not active")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrInvalidVote       = errors.New("invalid vote")
	ErrInvalidChoice     = errors.New("invalid choice")
	ErrTooManyChoices    = errors.New("too many choices selected")
	ErrInvalidSession    = errors.New("invalid session parameters")
	ErrTransaction       = errors.New("ledger transaction failed")
)

// Client is the capability surface shared by the live and mock ledgers.
// Receipts mean "submitted"; a later read establishes ground truth.
type Client interface {
	CreateSession(ctx context.Context, params SessionParams) (*Receipt, error)
	EndSession(ctx context.Context, sessionID string) (*Receipt, error)
	CastVote(ctx context.Context, vote Vote) (*Receipt, error)
	GetTally(ctx context.Context, sessionID string) (map[string]uint64, error)
	GetChoices(ctx context.Context, sessionID string) ([]string, error)
	IsActive(ctx context.Context, sessionID string) (bool, error)
	GetMode(ctx context.Context, sessionID string) (votemode.Code, error)
	HasVoted(ctx context.Context, sessionID, voterID string) (bool, error)
	Identity() string
	Close()
}

// SessionParams describes a session as registered on the ledger
type SessionParams struct {
	ID         string
	Choices    []string
	ModeCode   votemode.Code
	EndTime    time.Time
	MaxChoices int
}

// Vote is a single ballot. Ranks are only used in ranked mode.
type Vote struct {
	SessionID string   `json:"sessionId"`
	VoterID   string   `json:"voterId"`
	Choices   []string `json:"choices"`
	Ranks     []uint64 `json:"ranks,omitempty"`
	Weight    uint64   `json:"weight,omitempty"`
}

// Receipt acknowledges a submitted transaction
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
	SessionID   string `json:"sessionId,omitempty"`
}
