// Package evm implements the ledger surface over an EVM JSON-RPC endpoint.
// Reads are eth_call snapshots; writes are EIP-1559 transactions signed with
// the proposer key and polled for a receipt until the caller's context ends.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

var (
	_ domain.Ledger           = (*Ledger)(nil)
	_ domain.TradeEventSource = (*Ledger)(nil)
)

// Backend is the subset of *ethclient.Client the ledger uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Contracts holds the protocol's deployed addresses.
type Contracts struct {
	Factory common.Address
	Pool    common.Address
	Oracle  common.Address
	Staking common.Address
}

// Options configures a Ledger.
type Options struct {
	ChainID      *big.Int
	Contracts    Contracts
	Key          *ecdsa.PrivateKey // nil makes the ledger read-only
	PollInterval time.Duration
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64
	// SubmitTimeout bounds the receipt wait after broadcast; 0 waits for
	// the caller's context only.
	SubmitTimeout time.Duration
}

// Ledger is the JSON-RPC backed domain.Ledger.
type Ledger struct {
	backend Backend
	opts    Options
	account common.Address
	logger  *slog.Logger
}

// Dial connects to rpcURL and returns a Ledger over it together with the
// client's Close function.
func Dial(ctx context.Context, rpcURL string, opts Options, logger *slog.Logger) (*Ledger, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	return New(client, opts, logger), client.Close, nil
}

// New wraps an existing backend.
func New(backend Backend, opts Options, logger *slog.Logger) *Ledger {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasBufferPercent == 0 {
		opts.GasBufferPercent = 20
	}
	if opts.ChainID == nil {
		opts.ChainID = new(big.Int)
	}
	l := &Ledger{
		backend: backend,
		opts:    opts,
		logger:  logger.With(slog.String("component", "evm_ledger")),
	}
	if opts.Key != nil {
		l.account = ethcrypto.PubkeyToAddress(opts.Key.PublicKey)
	}
	return l
}

// Account implements domain.LedgerWriter.
func (l *Ledger) Account() common.Address { return l.account }

// call packs method, runs eth_call against target and unpacks the result.
func (l *Ledger) call(ctx context.Context, target common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	raw, err := l.backend.CallContract(ctx, ethereum.CallMsg{From: l.account, To: &target, Data: data}, nil)
	if err != nil {
		return nil, ledgerErr(target, method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, ledgerErr(target, method, fmt.Errorf("decode result: %w", err))
	}
	return out, nil
}

func (l *Ledger) callBig(ctx context.Context, target common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := l.call(ctx, target, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, ledgerErr(target, method, fmt.Errorf("unexpected result type %T", out[0]))
	}
	return v, nil
}

func ledgerErr(target common.Address, op string, err error) error {
	return &domain.LedgerError{Target: target.Hex(), Op: op, Reason: err.Error(), Err: err}
}

func u256(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
