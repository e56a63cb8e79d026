package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votebridge/pkg/votemode"
)

func newTestSession(t *testing.T, id string) *Session {
	t.Helper()
	start := time.Now().UTC().Truncate(time.Microsecond)
	s, err := NewSession(id, []string{"A", "B", "C"}, votemode.Multiple, 2, start, start.Add(time.Hour))
	require.NoError(t, err)
	return s
}

func TestSession_Validate(t *testing.T) {
	start := time.Now()

	tests := []struct {
		name    string
		mutate  func(s *Session)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Session) {}},
		{name: "open ended", mutate: func(s *Session) { s.EndTime = time.Time{} }},
		{name: "missing id", mutate: func(s *Session) { s.ID = "" }, wantErr: true},
		{name: "unknown mode", mutate: func(s *Session) { s.Mode = "approval" }, wantErr: true},
		{name: "no choices", mutate: func(s *Session) { s.Choices = nil }, wantErr: true},
		{name: "duplicate choices", mutate: func(s *Session) { s.Choices = []string{"A", "A"} }, wantErr: true},
		{name: "end before start", mutate: func(s *Session) { s.EndTime = start.Add(-time.Minute) }, wantErr: true},
		{name: "missing start", mutate: func(s *Session) { s.StartTime = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{
				ID:        "S1",
				Choices:   []string{"A", "B"},
				Mode:      votemode.Single,
				StartTime: start,
				EndTime:   start.Add(time.Hour),
				State:     StateCreated,
			}
			tt.mutate(s)

			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSession)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSession_Advance(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		s := newTestSession(t, "S1")
		for _, to := range []State{StateRegistered, StateActive, StateEnded, StateReconciled} {
			require.NoError(t, s.Advance(to))
			assert.Equal(t, to, s.State)
		}
		assert.True(t, s.State.Done())
	})

	t.Run("registration implies activity", func(t *testing.T) {
		s := newTestSession(t, "S1")
		require.NoError(t, s.Advance(StateActive))
		assert.Equal(t, StateActive, s.State)
	})

	t.Run("repeat is a no-op", func(t *testing.T) {
		s := newTestSession(t, "S1")
		require.NoError(t, s.Advance(StateActive))
		require.NoError(t, s.Advance(StateActive))
		assert.Equal(t, StateActive, s.State)
	})

	t.Run("never goes back or skips", func(t *testing.T) {
		s := newTestSession(t, "S1")
		assert.ErrorIs(t, s.Advance(StateEnded), ErrInvalidTransition)

		require.NoError(t, s.Advance(StateActive))
		require.NoError(t, s.Advance(StateEnded))
		assert.ErrorIs(t, s.Advance(StateActive), ErrInvalidTransition)
		assert.ErrorIs(t, s.Advance(StateCreated), ErrInvalidTransition)
		assert.ErrorIs(t, s.Advance("paused"), ErrInvalidTransition)
	})
}

func TestSession_Params(t *testing.T) {
	s := newTestSession(t, "S1")

	p, err := s.Params()
	require.NoError(t, err)
	assert.Equal(t, "S1", p.ID)
	assert.Equal(t, votemode.CodeMultiple, p.ModeCode)
	assert.Equal(t, 2, p.MaxChoices)
	assert.Equal(t, s.EndTime, p.EndTime)

	// params own their choice slice
	p.Choices[0] = "Z"
	assert.Equal(t, "A", s.Choices[0])
}

func TestState_Predicates(t *testing.T) {
	assert.False(t, StateCreated.Opened())
	assert.True(t, StateRegistered.Opened())
	assert.True(t, StateActive.Opened())
	assert.False(t, StateActive.Closed())
	assert.True(t, StateEnded.Closed())
	assert.False(t, StateEnded.Done())
	assert.Len(t, PendingStates(), 4)
}
