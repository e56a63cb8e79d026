package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"votebridge/pkg/connector"
	"votebridge/pkg/data"
	"votebridge/pkg/ledger"
	"votebridge/pkg/votemode"
)

// skewedLedger reports an extra choice the session never declared
type skewedLedger struct {
	*ledger.MockClient
	extra map[string]uint64
}

func (s *skewedLedger) GetTally(ctx context.Context, sessionID string) (map[string]uint64, error) {
	tally, err := s.MockClient.GetTally(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		tally[k] = v
	}
	return tally, nil
}

func setup(t *testing.T, client ledger.Client) *connector.Connector {
	t.Helper()
	conn := connector.New(zaptest.NewLogger(t), connector.WithMockFactory(func() ledger.Client { return client }))
	_, err := conn.Initialize(context.Background(), connector.Options{UseMock: true})
	require.NoError(t, err)
	return conn
}

func openAndVote(t *testing.T, client ledger.Client, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := client.CreateSession(ctx, ledger.SessionParams{
		ID:         id,
		Choices:    []string{"A", "B", "C"},
		ModeCode:   votemode.CodeMultiple,
		MaxChoices: 2,
	})
	require.NoError(t, err)
	_, err = client.CastVote(ctx, ledger.Vote{SessionID: id, VoterID: "V1", Choices: []string{"A", "B"}})
	require.NoError(t, err)
	_, err = client.EndSession(ctx, id)
	require.NoError(t, err)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name          string
		known         []string
		tally         map[string]uint64
		counts        map[string]uint64
		discrepancies []string
	}{
		{
			name:          "zero fill",
			known:         []string{"A", "B", "C"},
			tally:         map[string]uint64{"A": 2},
			counts:        map[string]uint64{"A": 2, "B": 0, "C": 0},
			discrepancies: []string{},
		},
		{
			name:          "undeclared ids",
			known:         []string{"A"},
			tally:         map[string]uint64{"A": 1, "Z": 3, "X": 1},
			counts:        map[string]uint64{"A": 1, "Z": 3, "X": 1},
			discrepancies: []string{"X", "Z"},
		},
		{
			name:          "empty tally",
			known:         []string{"A", "B"},
			tally:         nil,
			counts:        map[string]uint64{"A": 0, "B": 0},
			discrepancies: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Merge("S1", tt.known, tt.tally)
			assert.Equal(t, "S1", res.SessionID)
			assert.Equal(t, tt.counts, res.Counts)
			assert.Equal(t, tt.discrepancies, res.Discrepancies)
		})
	}
}

func TestReconcile_PersistsFinalResult(t *testing.T) {
	ctx := context.Background()
	client := ledger.NewMockClient()
	conn := setup(t, client)
	repo := data.NewMockRepository()

	start := time.Now().UTC()
	session, err := data.NewSession("S1", []string{"A", "B", "C"}, votemode.Multiple, 2, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.SaveSession(ctx, session))
	_, err = repo.UpdateState(ctx, "S1", data.StateActive)
	require.NoError(t, err)

	openAndVote(t, client, "S1")

	rec := New(conn, repo, zaptest.NewLogger(t))
	res, err := rec.Reconcile(ctx, "S1")
	require.NoError(t, err)

	assert.Equal(t, map[string]uint64{"A": 1, "B": 1, "C": 0}, res.Counts)
	assert.Empty(t, res.Discrepancies)
	assert.False(t, res.ReconciledAt.IsZero())

	stored, err := repo.GetResult(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, stored.Final)
	assert.Equal(t, res.Counts, stored.Counts)

	got, err := repo.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, data.StateReconciled, got.State)
}

func TestReconcile_Discrepancy(t *testing.T) {
	ctx := context.Background()
	client := &skewedLedger{MockClient: ledger.NewMockClient(), extra: map[string]uint64{"Z": 4}}
	conn := setup(t, client)
	openAndVote(t, client, "S1")

	core, logs := observer.New(zap.WarnLevel)
	rec := New(conn, nil, zap.New(core))

	res, err := rec.Reconcile(ctx, "S1")
	require.NoError(t, err)

	assert.Equal(t, []string{"Z"}, res.Discrepancies)
	assert.Equal(t, uint64(4), res.Counts["Z"])
	assert.Equal(t, uint64(0), res.Counts["C"])
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Ledger returned undeclared choices", logs.All()[0].Message)
}

func TestReconcile_ChoicesFromLedgerWhenUnrecorded(t *testing.T) {
	client := ledger.NewMockClient()
	conn := setup(t, client)
	openAndVote(t, client, "S2")

	rec := New(conn, data.NewMockRepository(), zaptest.NewLogger(t))
	res, err := rec.Reconcile(context.Background(), "S2")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"A": 1, "B": 1, "C": 0}, res.Counts)
}

func TestReconcile_Errors(t *testing.T) {
	t.Run("NotInitialized", func(t *testing.T) {
		rec := New(connector.New(zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
		_, err := rec.Reconcile(context.Background(), "S1")
		assert.ErrorIs(t, err, connector.ErrNotInitialized)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		rec := New(setup(t, ledger.NewMockClient()), nil, zaptest.NewLogger(t))
		_, err := rec.Reconcile(context.Background(), "missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}
