package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"

	"votebridge/pkg/votemode"
)

const mockIdentitySeed = "votebridge-mock-ledger"

type mockSession struct {
	params SessionParams
	mode   votemode.Mode
	active bool
	voters map[string]struct{}
	tally  map[string]uint64
}

// MockClient is an in-memory ledger. Writes are visible to reads
// immediately, unlike the live contract where a receipt only means the
// transaction was submitted.
type MockClient struct {
	sessions map[string]*mockSession
	block    uint64
	nonce    uint64
	identity string
	calls    map[string]int
	mu       sync.Mutex
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty mock ledger
func NewMockClient() *MockClient {
	seed := keccak([]byte(mockIdentitySeed))
	return &MockClient{
		sessions: make(map[string]*mockSession),
		block:    1,
		identity: "0x" + hex.EncodeToString(seed[12:]),
		calls:    make(map[string]int),
	}
}

func (m *MockClient) CreateSession(ctx context.Context, params SessionParams) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["createSession"]++

	p, err := NormalizeSession(params)
	if err != nil {
		return nil, err
	}
	if _, exists := m.sessions[p.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, p.ID)
	}

	mode, _ := votemode.Decode(p.ModeCode)
	tally := make(map[string]uint64, len(p.Choices))
	for _, c := range p.Choices {
		tally[c] = 0
	}
	p.Choices = append([]string(nil), p.Choices...)
	m.sessions[p.ID] = &mockSession{
		params: p,
		mode:   mode,
		active: true,
		voters: make(map[string]struct{}),
		tally:  tally,
	}

	return m.receipt("createSession", p.ID), nil
}

func (m *MockClient) EndSession(ctx context.Context, sessionID string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["endSession"]++

	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.active {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, sessionID)
	}
	s.active = false

	return m.receipt("endSession", sessionID), nil
}

func (m *MockClient) CastVote(ctx context.Context, vote Vote) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["castVote"]++

	s, err := m.lookup(vote.SessionID)
	if err != nil {
		return nil, err
	}
	if !s.active {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, vote.SessionID)
	}
	if err := ValidateVote(s.mode, s.params.MaxChoices, s.params.Choices, vote); err != nil {
		return nil, err
	}
	if _, voted := s.voters[vote.VoterID]; voted {
		return nil, fmt.Errorf("%w: voter %s in session %s", ErrAlreadyVoted, vote.VoterID, vote.SessionID)
	}

	s.voters[vote.VoterID] = struct{}{}
	for choice, n := range Credits(s.mode, vote) {
		s.tally[choice] += n
	}

	return m.receipt("castVote", vote.SessionID), nil
}

func (m *MockClient) GetTally(ctx context.Context, sessionID string) (map[string]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(s.tally))
	for k, v := range s.tally {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) GetChoices(ctx context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.params.Choices...), nil
}

func (m *MockClient) IsActive(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["isActive"]++

	s, ok := m.sessions[sessionID]
	if !ok {
		// unregistered sessions read as inactive, matching the contract
		return false, nil
	}
	return s.active, nil
}

func (m *MockClient) GetMode(ctx context.Context, sessionID string) (votemode.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	return s.params.ModeCode, nil
}

func (m *MockClient) HasVoted(ctx context.Context, sessionID, voterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(sessionID)
	if err != nil {
		return false, err
	}
	_, voted := s.voters[voterID]
	return voted, nil
}

func (m *MockClient) Identity() string {
	return m.identity
}

func (m *MockClient) Close() {}

// Calls returns how many times an operation was invoked
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SessionIDs lists registered sessions in lexical order
func (m *MockClient) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MockClient) lookup(sessionID string) (*mockSession, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, nil
}

// receipt must be called with mu held
func (m *MockClient) receipt(op, sessionID string) *Receipt {
	m.nonce++
	m.block++

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], m.nonce)
	hash := keccak([]byte(op), []byte(sessionID), n[:])

	return &Receipt{
		TxHash:      "0x" + hex.EncodeToString(hash),
		BlockNumber: m.block,
		SessionID:   sessionID,
	}
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
