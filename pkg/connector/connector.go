// Package connector owns the lifecycle of the active ledger client and
// degrades to the in-memory ledger when the live one cannot be reached.
package connector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"votebridge/pkg/ledger"
)

var (
	ErrNotInitialized  = errors.New("ledger not initialized")
	ErrInvalidConfig   = errors.New("invalid ledger configuration")
	ErrMockUnavailable = errors.New("mock ledger could not be constructed")
)

const (
	DefaultRPCURL       = "http://127.0.0.1:8545"
	DefaultProbeTimeout = 5 * time.Second
)

var (
	privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	addressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// State is the connection lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReadyLive     State = "ready_live"
	StateReadyMock     State = "ready_mock"
	StateFailed        State = "failed"
)

// Options carries credentials and endpoint for Initialize
type Options struct {
	PrivateKey      string
	ContractAddress string
	RPCURL          string
	UseMock         bool
}

// Status is a read-only snapshot of the connection
type Status struct {
	Initialized     bool   `json:"initialized"`
	Connected       bool   `json:"connected"`
	UsingMock       bool   `json:"usingMock"`
	Endpoint        string `json:"endpoint"`
	Identity        string `json:"identity"`
	ContractAddress string `json:"contractAddress,omitempty"`
	ChainID         string `json:"chainId,omitempty"`
	State           State  `json:"state"`
	FallbackReason  string `json:"fallbackReason,omitempty"`
}

// LiveLedger is a live client that can verify its own connectivity
type LiveLedger interface {
	ledger.Client
	Probe(ctx context.Context) (*ledger.ProbeInfo, error)
}

// Dialer opens a live ledger client
type Dialer func(ctx context.Context, cfg ledger.LiveConfig) (LiveLedger, error)

type initCall struct {
	done   chan struct{}
	status Status
	err    error
}

// Connector holds the active ledger client. Construct one per process and
// pass it to every component that touches the ledger.
type Connector struct {
	client         ledger.Client
	state          State
	opts           Options
	chainID        string
	fallbackReason string
	inflight       *initCall

	dial         Dialer
	newMock      func() ledger.Client
	probeTimeout time.Duration
	txTimeout    time.Duration
	logger       *zap.Logger
	mu           sync.RWMutex
}

// Option configures a Connector
type Option func(*Connector)

// WithDialer replaces the live client factory
func WithDialer(d Dialer) Option {
	return func(c *Connector) { c.dial = d }
}

// WithMockFactory replaces the mock ledger constructor
func WithMockFactory(f func() ledger.Client) Option {
	return func(c *Connector) { c.newMock = f }
}

// WithProbeTimeout bounds the liveness probe
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithTxTimeout bounds how long live transactions wait to be mined
func WithTxTimeout(d time.Duration) Option {
	return func(c *Connector) { c.txTimeout = d }
}

// New creates an uninitialized connector
func New(logger *zap.Logger, opts ...Option) *Connector {
	c := &Connector{
		state:        StateUninitialized,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger,
		newMock:      func() ledger.Client { return ledger.NewMockClient() },
	}
	c.dial = func(ctx context.Context, cfg ledger.LiveConfig) (LiveLedger, error) {
		return ledger.DialLive(ctx, cfg, c.logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize configures the active client. Concurrent callers share the
// outcome of the attempt already in progress. Connectivity failures degrade
// to the mock ledger and return a nil error; malformed configuration is
// returned as ErrInvalidConfig and leaves the previous state untouched.
func (c *Connector) Initialize(ctx context.Context, opts Options) (Status, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.status, call.err
		case <-ctx.Done():
			return c.Status(), ctx.Err()
		}
	}
	call := &initCall{done: make(chan struct{})}
	c.inflight = call
	prev := c.state
	c.state = StateInitializing
	c.mu.Unlock()

	call.status, call.err = c.initialize(ctx, opts, prev)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	return call.status, call.err
}

// CheckReady is the gate every ledger-touching operation passes first
func (c *Connector) CheckReady() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkReadyLocked()
}

// Client returns the active ledger client
func (c *Connector) Client() (ledger.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkReadyLocked(); err != nil {
		return nil, err
	}
	return c.client, nil
}

// Status returns a snapshot of the connection state
func (c *Connector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Initialized:     c.state == StateReadyLive || c.state == StateReadyMock,
		Connected:       c.state == StateReadyLive,
		UsingMock:       c.state == StateReadyMock,
		Endpoint:        c.opts.RPCURL,
		ContractAddress: c.opts.ContractAddress,
		ChainID:         c.chainID,
		State:           c.state,
		FallbackReason:  c.fallbackReason,
	}
	if c.client != nil {
		st.Identity = c.client.Identity()
	}
	return st
}

// Close releases the active client
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.state = StateUninitialized
}

// Private methods

func (c *Connector) checkReadyLocked() error {
	switch c.state {
	case StateReadyLive, StateReadyMock:
		if c.client == nil {
			return ErrNotInitialized
		}
		return nil
	default:
		return fmt.Errorf("%w: state %s", ErrNotInitialized, c.state)
	}
}

func (c *Connector) initialize(ctx context.Context, opts Options, prev State) (Status, error) {
	if opts.RPCURL == "" {
		opts.RPCURL = DefaultRPCURL
	}

	if err := validateOptions(opts); err != nil {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		c.logger.Warn("Rejected ledger configuration", zap.Error(err))
		return c.Status(), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if opts.UseMock {
		return c.installMock(opts, "")
	}
	if opts.ContractAddress == "" {
		return c.installMock(opts, "no contract address configured")
	}

	live, info, err := c.connectLive(ctx, opts)
	if err != nil {
		c.logger.Warn("Live ledger unavailable, falling back to mock",
			zap.String("endpoint", opts.RPCURL),
			zap.Error(err))
		return c.installMock(opts, err.Error())
	}

	c.install(live, StateReadyLive, opts, info.ChainID.String(), "")
	c.logger.Info("Connected to live ledger",
		zap.String("endpoint", opts.RPCURL),
		zap.String("contract", opts.ContractAddress),
		zap.String("identity", live.Identity()),
		zap.Uint64("block", info.BlockNumber))

	return c.Status(), nil
}

func (c *Connector) connectLive(ctx context.Context, opts Options) (LiveLedger, *ledger.ProbeInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	live, err := c.dial(probeCtx, ledger.LiveConfig{
		RPCURL:          opts.RPCURL,
		PrivateKey:      opts.PrivateKey,
		ContractAddress: opts.ContractAddress,
		TxTimeout:       c.txTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dialing ledger: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = c.probeTimeout

	var info *ledger.ProbeInfo
	probe := func() error {
		var err error
		info, err = live.Probe(probeCtx)
		return err
	}
	if err := backoff.Retry(probe, backoff.WithContext(eb, probeCtx)); err != nil {
		live.Close()
		return nil, nil, fmt.Errorf("probing ledger: %w", err)
	}

	return live, info, nil
}

func (c *Connector) installMock(opts Options, reason string) (Status, error) {
	mock := c.newMock()
	if mock == nil {
		c.mu.Lock()
		c.state = StateFailed
		c.fallbackReason = reason
		c.mu.Unlock()
		c.logger.Error("Mock ledger unavailable", zap.String("reason", reason))
		return c.Status(), ErrMockUnavailable
	}

	c.install(mock, StateReadyMock, opts, "", reason)
	c.logger.Info("Using mock ledger",
		zap.Bool("forced", opts.UseMock),
		zap.String("reason", reason))

	return c.Status(), nil
}

func (c *Connector) install(client ledger.Client, state State, opts Options, chainID, reason string) {
	c.mu.Lock()
	old := c.client
	c.client = client
	c.state = state
	c.opts = opts
	c.opts.PrivateKey = ""
	c.chainID = chainID
	c.fallbackReason = reason
	c.mu.Unlock()

	if old != nil && old != client {
		old.Close()
	}
}

func validateOptions(opts Options) error {
	if opts.UseMock {
		return nil
	}
	if opts.PrivateKey == "" {
		return errors.New("private key is required unless mock mode is forced")
	}
	if !privateKeyPattern.MatchString(opts.PrivateKey) {
		return errors.New("private key must be 0x followed by 64 hex characters")
	}
	if opts.ContractAddress != "" && !addressPattern.MatchString(opts.ContractAddress) {
		return errors.New("contract address must be 0x followed by 40 hex characters")
	}
	return nil
}
