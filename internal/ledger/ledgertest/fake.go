// Package ledgertest provides an in-memory domain.Ledger for tests.
package ledgertest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

var _ domain.Ledger = (*Fake)(nil)
var _ domain.TradeEventSource = (*Fake)(nil)

// Fake is a scriptable ledger. Zero values are usable; set fields before
// handing it to the code under test. Err* fields force the matching call
// to fail.
type Fake struct {
	mu sync.Mutex

	Markets     map[uint64]domain.Market
	Reserves    map[uint64]domain.Reserves
	Prices      map[uint64][]int64
	LPSupply    map[uint64]*big.Int
	LPBalances  map[common.Address]*big.Int
	Resolutions map[uint64]*domain.Resolution
	FeeTiers    []domain.FeeTier
	Stake       map[common.Address]*big.Int
	MinBond     *big.Int
	Window      time.Duration
	Arbitrator  common.Address
	Events      []domain.TradeEvent
	Signer      common.Address

	// QuoteMultiFunc answers QuoteMulti; nil returns amountIn unchanged.
	QuoteMultiFunc func(marketID uint64, outcomeID uint8, amountIn *big.Int, dir domain.Direction) *big.Int
	// FillFunc decides the confirmed output of a trade; nil fills exactly
	// MinAmountOut.
	FillFunc func(order domain.TradeOrder) *big.Int

	ErrReserves error
	ErrSupply   error
	ErrEvents   error
	ErrSubmit   error

	// Recorded submissions.
	Trades    []domain.TradeOrder
	Proposals []domain.ProposeIntent
	Disputes  []domain.DisputeIntent
	Finalized []uint64
	Rulings   map[uint64]uint8

	// Calls counts every method invocation by name.
	Calls map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Markets:     make(map[uint64]domain.Market),
		Reserves:    make(map[uint64]domain.Reserves),
		Prices:      make(map[uint64][]int64),
		LPSupply:    make(map[uint64]*big.Int),
		LPBalances:  make(map[common.Address]*big.Int),
		Resolutions: make(map[uint64]*domain.Resolution),
		Stake:       make(map[common.Address]*big.Int),
		MinBond:     new(big.Int),
		Rulings:     make(map[uint64]uint8),
		Calls:       make(map[string]int),
	}
}

func (f *Fake) call(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls == nil {
		f.Calls = make(map[string]int)
	}
	f.Calls[name]++
}

// CallCount returns how often name was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *Fake) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	f.call("GetMarket")
	m, ok := f.Markets[id]
	if !ok {
		return domain.Market{}, &domain.LedgerError{Target: "factory", Op: "getMarket", Reason: "execution reverted: unknown market", Err: domain.ErrNotFound}
	}
	return m, nil
}

func (f *Fake) GetReserves(_ context.Context, id uint64) (domain.Reserves, error) {
	f.call("GetReserves")
	if f.ErrReserves != nil {
		return domain.Reserves{}, f.ErrReserves
	}
	return f.Reserves[id], nil
}

func (f *Fake) GetPrices(_ context.Context, id uint64) ([]int64, error) {
	f.call("GetPrices")
	return f.Prices[id], nil
}

func (f *Fake) QuoteMulti(_ context.Context, id uint64, outcome uint8, amountIn *big.Int, dir domain.Direction) (*big.Int, error) {
	f.call("QuoteMulti")
	if f.QuoteMultiFunc != nil {
		return f.QuoteMultiFunc(id, outcome, amountIn, dir), nil
	}
	return new(big.Int).Set(amountIn), nil
}

func (f *Fake) GetLPSupply(_ context.Context, id uint64) (*big.Int, error) {
	f.call("GetLPSupply")
	if f.ErrSupply != nil {
		return nil, f.ErrSupply
	}
	if s, ok := f.LPSupply[id]; ok {
		return s, nil
	}
	return new(big.Int), nil
}

func (f *Fake) GetLPBalance(_ context.Context, _ uint64, owner common.Address) (*big.Int, error) {
	f.call("GetLPBalance")
	if b, ok := f.LPBalances[owner]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *Fake) GetResolution(_ context.Context, id uint64) (*domain.Resolution, error) {
	f.call("GetResolution")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Resolutions[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *Fake) GetFeeTiers(context.Context) ([]domain.FeeTier, error) {
	f.call("GetFeeTiers")
	return f.FeeTiers, nil
}

func (f *Fake) GetStakeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	f.call("GetStakeBalance")
	if b, ok := f.Stake[owner]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *Fake) GetMinBond(context.Context) (*big.Int, error) {
	f.call("GetMinBond")
	return f.MinBond, nil
}

func (f *Fake) GetDisputeWindow(context.Context) (time.Duration, error) {
	f.call("GetDisputeWindow")
	return f.Window, nil
}

func (f *Fake) GetArbitrator(context.Context) (common.Address, error) {
	f.call("GetArbitrator")
	return f.Arbitrator, nil
}

func (f *Fake) SubmitTrade(_ context.Context, order domain.TradeOrder) (domain.TradeReceipt, error) {
	f.call("SubmitTrade")
	if f.ErrSubmit != nil {
		return domain.TradeReceipt{}, f.ErrSubmit
	}
	f.mu.Lock()
	f.Trades = append(f.Trades, order)
	n := len(f.Trades)
	f.mu.Unlock()

	out := new(big.Int).Set(order.MinAmountOut)
	if f.FillFunc != nil {
		out = f.FillFunc(order)
	}
	return domain.TradeReceipt{
		TxReceipt: domain.TxReceipt{TxHash: common.BigToHash(big.NewInt(int64(n))), BlockNumber: uint64(100 + n)},
		AmountOut: out,
	}, nil
}

func (f *Fake) SubmitPropose(_ context.Context, in domain.ProposeIntent) (domain.TxReceipt, error) {
	f.call("SubmitPropose")
	if f.ErrSubmit != nil {
		return domain.TxReceipt{}, f.ErrSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Proposals = append(f.Proposals, in)
	f.Resolutions[in.MarketID] = &domain.Resolution{
		MarketID:        in.MarketID,
		State:           domain.ResolutionProposed,
		ProposedOutcome: in.OutcomeID,
		ProposalTime:    time.Now(),
		Proposer:        f.Signer,
		ProposerBond:    in.Bond,
		EvidenceURI:     in.EvidenceURI,
	}
	return domain.TxReceipt{TxHash: common.HexToHash("0xa1")}, nil
}

func (f *Fake) SubmitDispute(_ context.Context, in domain.DisputeIntent) (domain.TxReceipt, error) {
	f.call("SubmitDispute")
	if f.ErrSubmit != nil {
		return domain.TxReceipt{}, f.ErrSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disputes = append(f.Disputes, in)
	if rec, ok := f.Resolutions[in.MarketID]; ok {
		rec.State = domain.ResolutionDisputed
		rec.Disputer = f.Signer
		rec.DisputerBond = in.Bond
		rec.DisputeReason = in.Reason
	}
	return domain.TxReceipt{TxHash: common.HexToHash("0xa2")}, nil
}

func (f *Fake) SubmitFinalize(_ context.Context, id uint64) (domain.TxReceipt, error) {
	f.call("SubmitFinalize")
	if f.ErrSubmit != nil {
		return domain.TxReceipt{}, f.ErrSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Finalized = append(f.Finalized, id)
	if rec, ok := f.Resolutions[id]; ok {
		rec.State = domain.ResolutionFinalized
		rec.FinalOutcome = rec.ProposedOutcome
	}
	return domain.TxReceipt{TxHash: common.HexToHash("0xa3")}, nil
}

func (f *Fake) SubmitFinalizeDisputed(_ context.Context, id uint64, outcome uint8) (domain.TxReceipt, error) {
	f.call("SubmitFinalizeDisputed")
	if f.ErrSubmit != nil {
		return domain.TxReceipt{}, f.ErrSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rulings[id] = outcome
	if rec, ok := f.Resolutions[id]; ok {
		rec.State = domain.ResolutionFinalized
		rec.FinalOutcome = outcome
	}
	return domain.TxReceipt{TxHash: common.HexToHash("0xa4")}, nil
}

func (f *Fake) Account() common.Address { return f.Signer }

func (f *Fake) TradeEvents(_ context.Context, id uint64, fromBlock uint64) ([]domain.TradeEvent, error) {
	f.call("TradeEvents")
	if f.ErrEvents != nil {
		return nil, f.ErrEvents
	}
	var out []domain.TradeEvent
	for _, e := range f.Events {
		if e.MarketID == id && e.BlockNumber >= fromBlock {
			out = append(out, e)
		}
	}
	return out, nil
}
