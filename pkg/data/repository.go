package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"votebridge/pkg/votemode"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository persists session records and their results
type Repository interface {
	// Session operations
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	UpdateState(ctx context.Context, id string, to State) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Result operations
	SaveResult(ctx context.Context, result *Result) error
	GetResult(ctx context.Context, sessionID string) (*Result, error)
}

// SessionFilter defines filter parameters for session queries
type SessionFilter struct {
	States        []State
	StartedBefore *time.Time
	Limit         int
	Offset        int
}

func (f SessionFilter) validate() error {
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit and offset cannot be negative", ErrInvalidFilter)
	}
	for _, s := range f.States {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, s)
		}
	}
	return nil
}

// PostgresRepository implements Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over an existing pool
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
}

// SaveSession inserts a new session record
func (r *PostgresRepository) SaveSession(ctx context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validating session: %w", err)
	}

	query := `
		INSERT INTO voting_sessions (
			id, choices, vote_mode, max_choices, start_time, end_time,
			state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Choices, string(s.Mode), s.MaxChoices, s.StartTime, nullTime(s.EndTime),
		string(s.State), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, choices, vote_mode, max_choices, start_time, end_time,
		       state, created_at, updated_at
		FROM voting_sessions
		WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions matching the filter ordered by start time
func (r *PostgresRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, choices, vote_mode, max_choices, start_time, end_time,
		       state, created_at, updated_at
		FROM voting_sessions
		WHERE ($1::text[] IS NULL OR state = ANY($1))
		  AND ($2::timestamptz IS NULL OR start_time <= $2)
		ORDER BY start_time, id`

	var states []string
	for _, s := range filter.States {
		states = append(states, string(s))
	}
	args := []interface{}{states, filter.StartedBefore}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// UpdateState advances a session's lifecycle state inside a transaction
func (r *PostgresRepository) UpdateState(ctx context.Context, id string, to State) (*Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, choices, vote_mode, max_choices, start_time, end_time,
		       state, created_at, updated_at
		FROM voting_sessions
		WHERE id = $1
		FOR UPDATE`

	s, err := scanSession(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking session: %w", err)
	}

	from := s.State
	if err := s.Advance(to); err != nil {
		return nil, err
	}
	if from == s.State {
		return s, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE voting_sessions SET state = $2, updated_at = $3 WHERE id = $1`,
		id, string(s.State), s.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("updating session state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing state update: %w", err)
	}

	r.logger.Debug("Session state updated",
		zap.String("sessionID", id),
		zap.String("from", string(from)),
		zap.String("to", string(s.State)))

	return s, nil
}

// DeleteSession removes a session and its result
func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM voting_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveResult upserts the latest tally for a session. A final result is
// never overwritten by a live snapshot.
func (r *PostgresRepository) SaveResult(ctx context.Context, res *Result) error {
	query := `
		INSERT INTO session_results (session_id, counts, discrepancies, final, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET counts = EXCLUDED.counts,
		    discrepancies = EXCLUDED.discrepancies,
		    final = EXCLUDED.final,
		    recorded_at = EXCLUDED.recorded_at
		WHERE NOT session_results.final OR EXCLUDED.final`

	discrepancies := res.Discrepancies
	if discrepancies == nil {
		discrepancies = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		res.SessionID, res.Counts, discrepancies, res.Final, res.RecordedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return fmt.Errorf("saving result: %w", err)
	}

	return nil
}

// GetResult retrieves the stored tally for a session
func (r *PostgresRepository) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	query := `
		SELECT session_id, counts, discrepancies, final, recorded_at
		FROM session_results
		WHERE session_id = $1`

	res := &Result{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&res.SessionID, &res.Counts, &res.Discrepancies, &res.Final, &res.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying result: %w", err)
	}
	if len(res.Discrepancies) == 0 {
		res.Discrepancies = nil
	}

	return res, nil
}

// Helper functions

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	var mode, state string
	var end *time.Time

	err := row.Scan(
		&s.ID, &s.Choices, &mode, &s.MaxChoices, &s.StartTime, &end,
		&state, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Mode = votemode.Mode(mode)
	s.State = State(state)
	if end != nil {
		s.EndTime = *end
	}
	return s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
