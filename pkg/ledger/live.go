package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"votebridge/pkg/votemode"
)

// LiveConfig holds what is needed to reach a deployed voting contract
type LiveConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	TxTimeout       time.Duration
}

// ProbeInfo is the result of a liveness probe
type ProbeInfo struct {
	ChainID     *big.Int
	BlockNumber uint64
}

// LiveClient calls the voting contract over JSON-RPC
type LiveClient struct {
	eth       *ethclient.Client
	contract  *bind.BoundContract
	address   common.Address
	key       *ecdsa.PrivateKey
	signer    common.Address
	chainID   *big.Int
	txTimeout time.Duration
	logger    *zap.Logger

	// serializes submissions so pending nonces do not collide
	txMu sync.Mutex
}

var _ Client = (*LiveClient)(nil)

// revert reasons emitted by the contract
var revertReasons = []struct {
	fragment string
	err      error
}{
	{"already exists", ErrAlreadyRegistered},
	{"Already voted", ErrAlreadyVoted},
	{"Invalid session state", ErrNotActive},
	{"Session not found", ErrNotFound},
	{"Invalid choice", ErrInvalidChoice},
	{"Too many choices", ErrTooManyChoices},
	{"requires exactly one choice", ErrInvalidVote},
	{"Invalid vote mode", ErrInvalidMode},
}

// DialLive connects to the RPC endpoint and binds the contract. It does not
// probe; call Probe before trusting the connection.
func DialLive(ctx context.Context, cfg LiveConfig, logger *zap.Logger) (*LiveClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(votingSystemABI))
	if err != nil {
		return nil, fmt.Errorf("parsing contract ABI: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.RPCURL, err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 2 * time.Minute
	}

	return &LiveClient{
		eth:       eth,
		contract:  bind.NewBoundContract(address, parsed, eth, eth, eth),
		address:   address,
		key:       key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
		txTimeout: txTimeout,
		logger:    logger,
	}, nil
}

// Probe verifies the endpoint answers and a contract is deployed at the address
func (c *LiveClient) Probe(ctx context.Context) (*ProbeInfo, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	block, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading block number: %w", err)
	}
	code, err := c.eth.CodeAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("reading contract code: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no contract deployed at %s", c.address.Hex())
	}

	c.txMu.Lock()
	c.chainID = chainID
	c.txMu.Unlock()

	return &ProbeInfo{ChainID: chainID, BlockNumber: block}, nil
}

func (c *LiveClient) CreateSession(ctx context.Context, params SessionParams) (*Receipt, error) {
	p, err := NormalizeSession(params)
	if err != nil {
		return nil, err
	}
	exists, err := c.callBool(ctx, "sessionExists", p.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, p.ID)
	}

	var endTime int64
	if !p.EndTime.IsZero() {
		endTime = p.EndTime.Unix()
	}

	r, err := c.transact(ctx, "createSession",
		p.ID, p.Choices, uint8(p.ModeCode), big.NewInt(endTime), big.NewInt(int64(p.MaxChoices)))
	if err != nil {
		return nil, err
	}
	r.SessionID = p.ID
	return r, nil
}

func (c *LiveClient) EndSession(ctx context.Context, sessionID string) (*Receipt, error) {
	if err := c.requireExists(ctx, sessionID); err != nil {
		return nil, err
	}
	active, err := c.IsActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, sessionID)
	}
	return c.transact(ctx, "endSession", sessionID)
}

func (c *LiveClient) CastVote(ctx context.Context, vote Vote) (*Receipt, error) {
	if err := c.requireExists(ctx, vote.SessionID); err != nil {
		return nil, err
	}
	active, err := c.IsActive(ctx, vote.SessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, vote.SessionID)
	}

	code, err := c.GetMode(ctx, vote.SessionID)
	if err != nil {
		return nil, err
	}
	mode, err := votemode.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	maxChoices, err := c.callUint(ctx, "getSessionMaxChoices", vote.SessionID)
	if err != nil {
		return nil, err
	}
	choices, err := c.GetChoices(ctx, vote.SessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateVote(mode, int(maxChoices.Int64()), choices, vote); err != nil {
		return nil, err
	}

	vote = NormalizeVote(vote)
	ranks := make([]*big.Int, len(vote.Ranks))
	for i, r := range vote.Ranks {
		ranks[i] = new(big.Int).SetUint64(r)
	}

	// the contract rejects duplicates too; its answer wins if the two disagree
	return c.transact(ctx, "castVote",
		vote.SessionID, vote.VoterID, vote.Choices, ranks, new(big.Int).SetUint64(vote.Weight))
}

func (c *LiveClient) GetTally(ctx context.Context, sessionID string) (map[string]uint64, error) {
	choices, err := c.GetChoices(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tally := make(map[string]uint64, len(choices))
	for _, choice := range choices {
		n, err := c.callUint(ctx, "getChoiceResult", sessionID, choice)
		if err != nil {
			return nil, err
		}
		tally[choice] = n.Uint64()
	}
	return tally, nil
}

func (c *LiveClient) GetChoices(ctx context.Context, sessionID string) ([]string, error) {
	if err := c.requireExists(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := c.call(ctx, "getSessionChoices", sessionID)
	if err != nil {
		return nil, err
	}
	choices, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected getSessionChoices output %T", ErrTransaction, out[0])
	}
	return choices, nil
}

func (c *LiveClient) IsActive(ctx context.Context, sessionID string) (bool, error) {
	return c.callBool(ctx, "isSessionActive", sessionID)
}

func (c *LiveClient) GetMode(ctx context.Context, sessionID string) (votemode.Code, error) {
	if err := c.requireExists(ctx, sessionID); err != nil {
		return 0, err
	}
	out, err := c.call(ctx, "getSessionVoteMode", sessionID)
	if err != nil {
		return 0, err
	}
	code, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected getSessionVoteMode output %T", ErrTransaction, out[0])
	}
	return votemode.Code(code), nil
}

func (c *LiveClient) HasVoted(ctx context.Context, sessionID, voterID string) (bool, error) {
	if err := c.requireExists(ctx, sessionID); err != nil {
		return false, err
	}
	return c.callBool(ctx, "hasVoted", sessionID, voterID)
}

// Identity returns the signer address
func (c *LiveClient) Identity() string {
	return c.signer.Hex()
}

// ContractAddress returns the bound contract address
func (c *LiveClient) ContractAddress() string {
	return c.address.Hex()
}

// ChainID returns the chain id read by the last successful probe
func (c *LiveClient) ChainID() *big.Int {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.chainID
}

func (c *LiveClient) Close() {
	c.eth.Close()
}

// Private methods

func (c *LiveClient) transact(ctx context.Context, method string, args ...interface{}) (*Receipt, error) {
	c.txMu.Lock()
	chainID := c.chainID
	if chainID == nil {
		c.txMu.Unlock()
		return nil, fmt.Errorf("%w: client not probed", ErrTransaction)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		c.txMu.Unlock()
		return nil, fmt.Errorf("%w: building transactor: %v", ErrTransaction, err)
	}
	opts.Context = ctx
	tx, err := c.contract.Transact(opts, method, args...)
	c.txMu.Unlock()
	if err != nil {
		return nil, mapRevert(method, err)
	}

	c.logger.Debug("Transaction submitted",
		zap.String("method", method),
		zap.String("txHash", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", ErrTransaction, method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s reverted in tx %s", ErrTransaction, method, receipt.TxHash.Hex())
	}

	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (c *LiveClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, mapRevert(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no values", ErrTransaction, method)
	}
	return out, nil
}

func (c *LiveClient) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: unexpected %s output %T", ErrTransaction, method, out[0])
	}
	return v, nil
}

func (c *LiveClient) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s output %T", ErrTransaction, method, out[0])
	}
	return v, nil
}

func (c *LiveClient) requireExists(ctx context.Context, sessionID string) error {
	exists, err := c.callBool(ctx, "sessionExists", sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// mapRevert converts known contract revert reasons to ledger errors
func mapRevert(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrTransaction, method, err)
	}
	msg := err.Error()
	for _, r := range revertReasons {
		if strings.Contains(msg, r.fragment) {
			return fmt.Errorf("%w: %s", r.err, msg)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrTransaction, method, err)
}
