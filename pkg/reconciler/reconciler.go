// Package reconciler turns raw ledger tallies into final results keyed by
// the session's known choice set.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"votebridge/pkg/connector"
	"votebridge/pkg/data"
)

// TallyResult is a reconciled tally. Counts carries every known choice,
// including those with no votes. Discrepancies lists ids the ledger returned
// that the session never declared.
type TallyResult struct {
	SessionID     string            `json:"sessionId"`
	Counts        map[string]uint64 `json:"counts"`
	Discrepancies []string          `json:"discrepancies"`
	ReconciledAt  time.Time         `json:"reconciledAt"`
}

// Reconciler reads tallies from the active ledger. It never writes to it.
type Reconciler struct {
	conn   *connector.Connector
	repo   data.Repository
	logger *zap.Logger
	now    func() time.Time
}

// New creates a reconciler. repo may be nil, in which case choices always
// come from the ledger and nothing is persisted.
func New(conn *connector.Connector, repo data.Repository, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		conn:   conn,
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile fetches the ledger tally for sessionID, merges it with the known
// choice set and, when the session is on record, stores a final result and
// marks the session reconciled.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string) (*TallyResult, error) {
	client, err := r.conn.Client()
	if err != nil {
		return nil, err
	}

	var record *data.Session
	if r.repo != nil {
		record, err = r.repo.GetSession(ctx, sessionID)
		if err != nil && !errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	var known []string
	if record != nil {
		known = record.Choices
	} else {
		known, err = client.GetChoices(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("fetching choices: %w", err)
		}
	}

	tally, err := client.GetTally(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetching tally: %w", err)
	}

	result := Merge(sessionID, known, tally)
	result.ReconciledAt = r.now()

	if len(result.Discrepancies) > 0 {
		r.logger.Warn("Ledger returned undeclared choices",
			zap.String("sessionID", sessionID),
			zap.Strings("choices", result.Discrepancies))
	}

	if record == nil {
		return result, nil
	}

	if err := r.repo.SaveResult(ctx, &data.Result{
		SessionID:     sessionID,
		Counts:        result.Counts,
		Discrepancies: result.Discrepancies,
		Final:         true,
		RecordedAt:    result.ReconciledAt,
	}); err != nil {
		return nil, fmt.Errorf("saving result: %w", err)
	}

	// A close observed only through the ledger may not be recorded yet.
	// Sessions that never opened keep their state.
	if record.State == data.StateActive {
		if _, err := r.repo.UpdateState(ctx, sessionID, data.StateEnded); err != nil {
			return nil, fmt.Errorf("marking session ended: %w", err)
		}
		record.State = data.StateEnded
	}
	if record.State == data.StateEnded {
		if _, err := r.repo.UpdateState(ctx, sessionID, data.StateReconciled); err != nil {
			return nil, fmt.Errorf("marking session reconciled: %w", err)
		}
	}

	r.logger.Info("Session reconciled",
		zap.String("sessionID", sessionID),
		zap.Int("choices", len(result.Counts)),
		zap.Int("discrepancies", len(result.Discrepancies)))

	return result, nil
}

// Merge combines a raw tally with the known choice set
func Merge(sessionID string, known []string, tally map[string]uint64) *TallyResult {
	result := &TallyResult{
		SessionID:     sessionID,
		Counts:        make(map[string]uint64, len(known)),
		Discrepancies: []string{},
	}

	declared := make(map[string]struct{}, len(known))
	for _, id := range known {
		declared[id] = struct{}{}
		result.Counts[id] = tally[id]
	}

	for id, n := range tally {
		if _, ok := declared[id]; ok {
			continue
		}
		result.Counts[id] = n
		result.Discrepancies = append(result.Discrepancies, id)
	}
	sort.Strings(result.Discrepancies)

	return result
}
