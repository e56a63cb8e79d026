package data

import (
	"errors"
	"fmt"
	"time"

	"votebridge/pkg/ledger"
	"votebridge/pkg/votemode"
)

// Error variables for consistent error handling
var (
	ErrInvalidSession    = errors.New("invalid session")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// State is the lifecycle state of a voting session
type State string

const (
	StateCreated    State = "created"
	StateRegistered State = "registered"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateReconciled State = "reconciled"
)

var stateOrder = map[State]int{
	StateCreated:    0,
	StateRegistered: 1,
	StateActive:     2,
	StateEnded:      3,
	StateReconciled: 4,
}

// Done reports whether no further transitions are expected
func (s State) Done() bool {
	return s == StateReconciled
}

// Opened reports whether the session has been registered on the ledger
func (s State) Opened() bool {
	return stateOrder[s] >= stateOrder[StateRegistered]
}

// Closed reports whether the ledger close has been confirmed
func (s State) Closed() bool {
	return stateOrder[s] >= stateOrder[StateEnded]
}

// Valid reports whether s is a known state
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// PendingStates are the states rescheduling cares about
func PendingStates() []State {
	return []State{StateCreated, StateRegistered, StateActive, StateEnded}
}

// Session is the application's record of a voting session
type Session struct {
	ID         string        `json:"sessionId"`
	Choices    []string      `json:"choices"`
	Mode       votemode.Mode `json:"voteMode"`
	MaxChoices int           `json:"maxChoices"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime,omitempty"`
	State      State         `json:"state"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// NewSession creates a session record in the Created state
func NewSession(id string, choices []string, mode votemode.Mode, maxChoices int, start, end time.Time) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:         id,
		Choices:    append([]string(nil), choices...),
		Mode:       mode,
		MaxChoices: maxChoices,
		StartTime:  start,
		EndTime:    end,
		State:      StateCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the session record
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", ErrInvalidSession)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidSession, votemode.ErrUnknownModeName)
	}
	if len(s.Choices) == 0 {
		return fmt.Errorf("%w: choices cannot be empty", ErrInvalidSession)
	}
	seen := make(map[string]struct{}, len(s.Choices))
	for _, c := range s.Choices {
		if c == "" {
			return fmt.Errorf("%w: choice ID cannot be empty", ErrInvalidSession)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate choice %q", ErrInvalidSession, c)
		}
		seen[c] = struct{}{}
	}
	if s.MaxChoices < 0 {
		return fmt.Errorf("%w: max choices cannot be negative", ErrInvalidSession)
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidSession)
	}
	if !s.EndTime.IsZero() && !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSession)
	}
	if !s.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidSession, s.State)
	}
	return nil
}

// Advance moves the session forward. Registration implies activity, so
// Created may move straight to Active. Repeating the current state is a no-op.
func (s *Session) Advance(to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	from := stateOrder[s.State]
	next := stateOrder[to]

	switch {
	case next == from:
		return nil
	case next == from+1:
	case s.State == StateCreated && to == StateActive:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}

	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Params returns the ledger registration parameters for the session
func (s *Session) Params() (ledger.SessionParams, error) {
	code, err := votemode.Encode(s.Mode)
	if err != nil {
		return ledger.SessionParams{}, err
	}
	return ledger.SessionParams{
		ID:         s.ID,
		Choices:    append([]string(nil), s.Choices...),
		ModeCode:   code,
		EndTime:    s.EndTime,
		MaxChoices: s.MaxChoices,
	}, nil
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	c := *s
	c.Choices = append([]string(nil), s.Choices...)
	return &c
}

// Result is a tally persisted for a session. Final results are written
// once the session is reconciled; live snapshots are not final.
type Result struct {
	SessionID     string            `json:"sessionId"`
	Counts        map[string]uint64 `json:"counts"`
	Discrepancies []string          `json:"discrepancies,omitempty"`
	Final         bool              `json:"final"`
	RecordedAt    time.Time         `json:"recordedAt"`
}
