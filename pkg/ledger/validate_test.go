package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votebridge/pkg/votemode"
)

func TestNormalizeSession(t *testing.T) {
	tests := []struct {
		name    string
		params  SessionParams
		wantMax int
		wantErr error
	}{
		{
			name:    "single forces one choice",
			params:  SessionParams{ID: "s", Choices: []string{"A", "B"}, ModeCode: votemode.CodeSingle, MaxChoices: 2},
			wantMax: 1,
		},
		{
			name:    "multiple defaults to all choices",
			params:  SessionParams{ID: "s", Choices: []string{"A", "B", "C"}, ModeCode: votemode.CodeMultiple},
			wantMax: 3,
		},
		{
			name:    "multiple keeps bound",
			params:  SessionParams{ID: "s", Choices: []string{"A", "B", "C"}, ModeCode: votemode.CodeMultiple, MaxChoices: 2},
			wantMax: 2,
		},
		{
			name:    "unknown mode",
			params:  SessionParams{ID: "s", Choices: []string{"A"}, ModeCode: 3},
			wantErr: ErrInvalidMode,
		},
		{
			name:    "empty choices",
			params:  SessionParams{ID: "s", ModeCode: votemode.CodeSingle},
			wantErr: ErrInvalidSession,
		},
		{
			name:    "duplicate choices",
			params:  SessionParams{ID: "s", Choices: []string{"A", "A"}, ModeCode: votemode.CodeSingle},
			wantErr: ErrInvalidSession,
		},
		{
			name:    "missing id",
			params:  SessionParams{Choices: []string{"A"}, ModeCode: votemode.CodeSingle},
			wantErr: ErrInvalidSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NormalizeSession(tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, p.MaxChoices)
		})
	}
}

func TestValidateShape_Ranked(t *testing.T) {
	base := Vote{SessionID: "S", VoterID: "V"}

	v := base
	v.Choices, v.Ranks = []string{"A", "B"}, []uint64{1, 1}
	assert.ErrorIs(t, ValidateShape(votemode.Ranked, 0, v), ErrInvalidVote)

	v.Ranks = []uint64{1}
	assert.ErrorIs(t, ValidateShape(votemode.Ranked, 0, v), ErrInvalidVote)

	v.Ranks = []uint64{0, 1}
	assert.ErrorIs(t, ValidateShape(votemode.Ranked, 0, v), ErrInvalidVote)

	v.Ranks = []uint64{2, 5}
	assert.NoError(t, ValidateShape(votemode.Ranked, 0, v))
}

func TestValidateShape_Basics(t *testing.T) {
	assert.ErrorIs(t, ValidateShape(votemode.Single, 1, Vote{VoterID: "V", Choices: []string{"A"}}), ErrInvalidVote)
	assert.ErrorIs(t, ValidateShape(votemode.Single, 1, Vote{SessionID: "S", Choices: []string{"A"}}), ErrInvalidVote)
	assert.ErrorIs(t, ValidateShape(votemode.Multiple, 3, Vote{SessionID: "S", VoterID: "V"}), ErrInvalidVote)
	assert.ErrorIs(t, ValidateShape(votemode.Multiple, 3, Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "A"}}), ErrInvalidVote)
	assert.ErrorIs(t, ValidateShape("approval", 3, Vote{SessionID: "S", VoterID: "V", Choices: []string{"A"}}), ErrInvalidMode)
}

func TestValidateBasic(t *testing.T) {
	tests := []struct {
		name    string
		vote    Vote
		wantErr bool
	}{
		{"valid without ranks", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "B"}}, false},
		{"valid with ranks", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "B"}, Ranks: []uint64{2, 1}}, false},
		{"missing session", Vote{VoterID: "V", Choices: []string{"A"}}, true},
		{"missing voter", Vote{SessionID: "S", Choices: []string{"A"}}, true},
		{"no choices", Vote{SessionID: "S", VoterID: "V"}, true},
		{"duplicate choice", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "A"}}, true},
		{"rank count mismatch", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "B"}, Ranks: []uint64{1}}, true},
		{"zero rank", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "B"}, Ranks: []uint64{0, 1}}, true},
		{"duplicate rank", Vote{SessionID: "S", VoterID: "V", Choices: []string{"A", "B"}, Ranks: []uint64{1, 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBasic(tt.vote)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVote)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCredits(t *testing.T) {
	multi := Credits(votemode.Multiple, Vote{Choices: []string{"A", "B"}})
	assert.Equal(t, map[string]uint64{"A": 1, "B": 1}, multi)

	weighted := Credits(votemode.Single, Vote{Choices: []string{"A"}, Weight: 4})
	assert.Equal(t, map[string]uint64{"A": 4}, weighted)

	ranked := Credits(votemode.Ranked, Vote{Choices: []string{"A", "B"}, Ranks: []uint64{3, 2}})
	assert.Equal(t, map[string]uint64{"B": 1}, ranked)
}

func TestMapRevert(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"execution reverted: Session with this ID already exists", ErrAlreadyRegistered},
		{"execution reverted: Already voted", ErrAlreadyVoted},
		{"execution reverted: Invalid session state for this operation", ErrNotActive},
		{"execution reverted: Single vote mode requires exactly one choice", ErrInvalidVote},
		{"execution reverted: Invalid choice", ErrInvalidChoice},
		{"execution reverted: Too many choices selected", ErrTooManyChoices},
		{"connection refused", ErrTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.ErrorIs(t, mapRevert("castVote", errors.New(tt.msg)), tt.want)
		})
	}
}
