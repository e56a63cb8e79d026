package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votebridge/pkg/votemode"
)

func setupMockSession(t *testing.T, mode votemode.Code, maxChoices int) *MockClient {
	t.Helper()
	m := NewMockClient()
	_, err := m.CreateSession(context.Background(), SessionParams{
		ID:         "S1",
		Choices:    []string{"A", "B", "C"},
		ModeCode:   mode,
		EndTime:    time.Now().Add(time.Hour),
		MaxChoices: maxChoices,
	})
	require.NoError(t, err)
	return m
}

func TestMockClient_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and activates", func(t *testing.T) {
		m := setupMockSession(t, votemode.CodeSingle, 0)

		active, err := m.IsActive(ctx, "S1")
		require.NoError(t, err)
		assert.True(t, active)

		code, err := m.GetMode(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, votemode.CodeSingle, code)

		tally, err := m.GetTally(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, map[string]uint64{"A": 0, "B": 0, "C": 0}, tally)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		m := setupMockSession(t, votemode.CodeSingle, 0)
		_, err := m.CreateSession(ctx, SessionParams{ID: "S1", Choices: []string{"X"}, ModeCode: votemode.CodeSingle})
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		m := NewMockClient()
		_, err := m.CreateSession(ctx, SessionParams{ID: "S2", Choices: []string{"A"}, ModeCode: 7})
		assert.ErrorIs(t, err, ErrInvalidMode)
		assert.Empty(t, m.SessionIDs())
	})

	t.Run("receipts are distinct", func(t *testing.T) {
		m := NewMockClient()
		r1, err := m.CreateSession(ctx, SessionParams{ID: "a", Choices: []string{"A"}, ModeCode: votemode.CodeSingle})
		require.NoError(t, err)
		r2, err := m.CreateSession(ctx, SessionParams{ID: "b", Choices: []string{"A"}, ModeCode: votemode.CodeSingle})
		require.NoError(t, err)

		assert.NotEqual(t, r1.TxHash, r2.TxHash)
		assert.Len(t, r1.TxHash, 66)
		assert.Greater(t, r2.BlockNumber, r1.BlockNumber)
		assert.Equal(t, "a", r1.SessionID)
	})
}

func TestMockClient_EndSession(t *testing.T) {
	ctx := context.Background()
	m := setupMockSession(t, votemode.CodeMultiple, 2)

	_, err := m.EndSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.EndSession(ctx, "S1")
	require.NoError(t, err)

	active, err := m.IsActive(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = m.EndSession(ctx, "S1")
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = m.CastVote(ctx, Vote{SessionID: "S1", VoterID: "V1", Choices: []string{"A"}})
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestMockClient_VoteUniqueness(t *testing.T) {
	ctx := context.Background()
	m := setupMockSession(t, votemode.CodeSingle, 0)

	_, err := m.CastVote(ctx, Vote{SessionID: "S1", VoterID: "V1", Choices: []string{"B"}})
	require.NoError(t, err)

	_, err = m.CastVote(ctx, Vote{SessionID: "S1", VoterID: "V1", Choices: []string{"B"}})
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	tally, err := m.GetTally(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tally["B"])

	voted, err := m.HasVoted(ctx, "S1", "V1")
	require.NoError(t, err)
	assert.True(t, voted)

	voted, err = m.HasVoted(ctx, "S1", "V2")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestMockClient_VoteShapes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mode    votemode.Code
		max     int
		vote    Vote
		wantErr error
	}{
		{
			name:    "single with two choices",
			mode:    votemode.CodeSingle,
			vote:    Vote{Choices: []string{"A", "B"}},
			wantErr: ErrInvalidVote,
		},
		{
			name:    "multiple over max",
			mode:    votemode.CodeMultiple,
			max:     2,
			vote:    Vote{Choices: []string{"A", "B", "C"}},
			wantErr: ErrTooManyChoices,
		},
		{
			name:    "unknown choice",
			mode:    votemode.CodeMultiple,
			max:     2,
			vote:    Vote{Choices: []string{"Z"}},
			wantErr: ErrInvalidChoice,
		},
		{
			name:    "ranked duplicate ranks",
			mode:    votemode.CodeRanked,
			vote:    Vote{Choices: []string{"A", "B"}, Ranks: []uint64{1, 1}},
			wantErr: ErrInvalidVote,
		},
		{
			name: "ranked partial ordering",
			mode: votemode.CodeRanked,
			vote: Vote{Choices: []string{"C", "A"}, Ranks: []uint64{2, 1}},
		},
		{
			name: "weighted multiple",
			mode: votemode.CodeMultiple,
			max:  2,
			vote: Vote{Choices: []string{"A", "C"}, Weight: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupMockSession(t, tt.mode, tt.max)
			tt.vote.SessionID = "S1"
			tt.vote.VoterID = "V1"

			_, err := m.CastVote(ctx, tt.vote)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				voted, _ := m.HasVoted(ctx, "S1", "V1")
				assert.False(t, voted, "rejected vote must not be recorded")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMockClient_RankedCreditsFirstPreference(t *testing.T) {
	ctx := context.Background()
	m := setupMockSession(t, votemode.CodeRanked, 0)

	_, err := m.CastVote(ctx, Vote{SessionID: "S1", VoterID: "V1", Choices: []string{"C", "A", "B"}, Ranks: []uint64{2, 1, 3}})
	require.NoError(t, err)

	tally, err := m.GetTally(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"A": 1, "B": 0, "C": 0}, tally)
}

func TestMockClient_CallCounts(t *testing.T) {
	ctx := context.Background()
	m := setupMockSession(t, votemode.CodeSingle, 0)

	_, _ = m.IsActive(ctx, "S1")
	_, _ = m.IsActive(ctx, "unknown")

	assert.Equal(t, 1, m.Calls("createSession"))
	assert.Equal(t, 2, m.Calls("isActive"))
	assert.Equal(t, 0, m.Calls("endSession"))
	assert.NotEmpty(t, m.Identity())
}
