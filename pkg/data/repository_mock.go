package data

import (
	"context"
	"sort"
	"sync"
)

// MockRepository keeps sessions in memory. It backs the service when no
// database is configured and stands in for Postgres in tests.
type MockRepository struct {
	sessions map[string]*Session
	results  map[string]*Result
	mu       sync.RWMutex
}

// Ensure MockRepository implements the Repository interface
var _ Repository = (*MockRepository)(nil)

func NewMockRepository() *MockRepository {
	return &MockRepository{
		sessions: make(map[string]*Session),
		results:  make(map[string]*Result),
	}
}

// Session operations
func (m *MockRepository) SaveSession(ctx context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrDuplicate
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MockRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MockRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[State]bool, len(filter.States))
	for _, st := range filter.States {
		wanted[st] = true
	}

	var out []*Session
	for _, s := range m.sessions {
		if len(wanted) > 0 && !wanted[s.State] {
			continue
		}
		if filter.StartedBefore != nil && s.StartTime.After(*filter.StartedBefore) {
			continue
		}
		out = append(out, s.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockRepository) UpdateState(ctx context.Context, id string, to State) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.Advance(to); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (m *MockRepository) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.results, id)
	return nil
}

// Result operations
func (m *MockRepository) SaveResult(ctx context.Context, res *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[res.SessionID]; !ok {
		return ErrNotFound
	}
	if prev, ok := m.results[res.SessionID]; ok && prev.Final && !res.Final {
		return nil
	}

	counts := make(map[string]uint64, len(res.Counts))
	for k, v := range res.Counts {
		counts[k] = v
	}
	stored := *res
	stored.Counts = counts
	stored.Discrepancies = append([]string(nil), res.Discrepancies...)
	m.results[res.SessionID] = &stored
	return nil
}

func (m *MockRepository) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *res
	return &out, nil
}
