package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerReader is the read surface of the authoritative ledger. Every call is
// a point-in-time snapshot.
type LedgerReader interface {
	GetMarket(ctx context.Context, marketID uint64) (Market, error)
	GetReserves(ctx context.Context, marketID uint64) (Reserves, error)
	// GetPrices returns per-outcome prices in basis points (LMSR markets).
	GetPrices(ctx context.Context, marketID uint64) ([]int64, error)
	// QuoteMulti evaluates the LMSR curve on the ledger.
	QuoteMulti(ctx context.Context, marketID uint64, outcomeID uint8, amountIn *big.Int, dir Direction) (*big.Int, error)
	GetLPSupply(ctx context.Context, marketID uint64) (*big.Int, error)
	GetLPBalance(ctx context.Context, marketID uint64, owner common.Address) (*big.Int, error)
	// GetResolution returns nil, nil when the market has no resolution record.
	GetResolution(ctx context.Context, marketID uint64) (*Resolution, error)
	GetFeeTiers(ctx context.Context) ([]FeeTier, error)
	GetStakeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	GetMinBond(ctx context.Context) (*big.Int, error)
	GetDisputeWindow(ctx context.Context) (time.Duration, error)
	GetArbitrator(ctx context.Context) (common.Address, error)
}

// LedgerWriter submits state-changing operations. Implementations return
// ErrSubmissionTimeout when the caller's context ends before a receipt is
// known; the caller must re-query the ledger to learn the outcome.
type LedgerWriter interface {
	SubmitTrade(ctx context.Context, order TradeOrder) (TradeReceipt, error)
	SubmitPropose(ctx context.Context, intent ProposeIntent) (TxReceipt, error)
	SubmitDispute(ctx context.Context, intent DisputeIntent) (TxReceipt, error)
	SubmitFinalize(ctx context.Context, marketID uint64) (TxReceipt, error)
	SubmitFinalizeDisputed(ctx context.Context, marketID uint64, outcomeID uint8) (TxReceipt, error)
	// Account is the address that signs submissions.
	Account() common.Address
}

// Ledger is the full read/write surface.
type Ledger interface {
	LedgerReader
	LedgerWriter
}

// TradeEventSource replays historical trade events in ledger order.
type TradeEventSource interface {
	TradeEvents(ctx context.Context, marketID uint64, fromBlock uint64) ([]TradeEvent, error)
}
