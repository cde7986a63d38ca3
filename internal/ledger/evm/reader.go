package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

var marketStatuses = []domain.MarketStatus{
	domain.MarketStatusActive,
	domain.MarketStatusClosed,
	domain.MarketStatusResolved,
	domain.MarketStatusInvalid,
}

// GetMarket implements domain.LedgerReader.
func (l *Ledger) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	out, err := l.call(ctx, l.opts.Contracts.Factory, factoryABI, "getMarket", u256(marketID))
	if err != nil {
		return domain.Market{}, err
	}
	status := domain.MarketStatusInvalid
	if s := int(*abi.ConvertType(out[3], new(uint8)).(*uint8)); s < len(marketStatuses) {
		status = marketStatuses[s]
	}
	return domain.Market{
		ID:              marketID,
		OutcomeCount:    int(*abi.ConvertType(out[0], new(uint8)).(*uint8)),
		CollateralToken: *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		CloseTime:       time.Unix(int64(*abi.ConvertType(out[2], new(uint64)).(*uint64)), 0).UTC(),
		Status:          status,
		MetadataRef:     *abi.ConvertType(out[4], new(string)).(*string),
	}, nil
}

// GetReserves implements domain.LedgerReader.
func (l *Ledger) GetReserves(ctx context.Context, marketID uint64) (domain.Reserves, error) {
	out, err := l.call(ctx, l.opts.Contracts.Pool, poolABI, "getReserves", u256(marketID))
	if err != nil {
		return domain.Reserves{}, err
	}
	return domain.Reserves{
		MarketID: marketID,
		Amounts:  *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int),
	}, nil
}

// GetPrices implements domain.LedgerReader.
func (l *Ledger) GetPrices(ctx context.Context, marketID uint64) ([]int64, error) {
	out, err := l.call(ctx, l.opts.Contracts.Pool, poolABI, "getPrices", u256(marketID))
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	prices := make([]int64, len(raw))
	for i, p := range raw {
		if !p.IsInt64() {
			return nil, ledgerErr(l.opts.Contracts.Pool, "getPrices", fmt.Errorf("price %d out of range: %s", i, p))
		}
		prices[i] = p.Int64()
	}
	return prices, nil
}

// QuoteMulti implements domain.LedgerReader.
func (l *Ledger) QuoteMulti(ctx context.Context, marketID uint64, outcomeID uint8, amountIn *big.Int, dir domain.Direction) (*big.Int, error) {
	method := "quoteBuy"
	if dir == domain.DirectionSell {
		method = "quoteSell"
	}
	return l.callBig(ctx, l.opts.Contracts.Pool, poolABI, method, u256(marketID), outcomeID, amountIn)
}

// GetLPSupply implements domain.LedgerReader.
func (l *Ledger) GetLPSupply(ctx context.Context, marketID uint64) (*big.Int, error) {
	return l.callBig(ctx, l.opts.Contracts.Pool, poolABI, "lpTotalSupply", u256(marketID))
}

// GetLPBalance implements domain.LedgerReader.
func (l *Ledger) GetLPBalance(ctx context.Context, marketID uint64, owner common.Address) (*big.Int, error) {
	return l.callBig(ctx, l.opts.Contracts.Pool, poolABI, "lpBalanceOf", u256(marketID), owner)
}

// GetResolution implements domain.LedgerReader. A record still in the None
// state is reported as absent.
func (l *Ledger) GetResolution(ctx context.Context, marketID uint64) (*domain.Resolution, error) {
	out, err := l.call(ctx, l.opts.Contracts.Oracle, oracleABI, "getResolution", u256(marketID))
	if err != nil {
		return nil, err
	}
	state := domain.ResolutionState(*abi.ConvertType(out[0], new(uint8)).(*uint8))
	if state == domain.ResolutionNone {
		return nil, nil
	}
	if state > domain.ResolutionFinalized {
		return nil, ledgerErr(l.opts.Contracts.Oracle, "getResolution", fmt.Errorf("unknown state %d", state))
	}
	rec := &domain.Resolution{
		MarketID:        marketID,
		State:           state,
		ProposedOutcome: *abi.ConvertType(out[1], new(uint8)).(*uint8),
		FinalOutcome:    *abi.ConvertType(out[2], new(uint8)).(*uint8),
		ProposalTime:    time.Unix(int64(*abi.ConvertType(out[3], new(uint64)).(*uint64)), 0).UTC(),
		Proposer:        *abi.ConvertType(out[4], new(common.Address)).(*common.Address),
		ProposerBond:    *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		Disputer:        *abi.ConvertType(out[6], new(common.Address)).(*common.Address),
		DisputerBond:    *abi.ConvertType(out[7], new(*big.Int)).(**big.Int),
		EvidenceURI:     *abi.ConvertType(out[8], new(string)).(*string),
	}
	return rec, nil
}

// GetFeeTiers implements domain.LedgerReader.
func (l *Ledger) GetFeeTiers(ctx context.Context) ([]domain.FeeTier, error) {
	out, err := l.call(ctx, l.opts.Contracts.Staking, stakingABI, "getFeeTiers")
	if err != nil {
		return nil, err
	}
	mins := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	fees := *abi.ConvertType(out[1], new([]uint16)).(*[]uint16)
	protocol := *abi.ConvertType(out[2], new([]uint16)).(*[]uint16)
	if len(mins) != len(fees) || len(mins) != len(protocol) {
		return nil, ledgerErr(l.opts.Contracts.Staking, "getFeeTiers",
			fmt.Errorf("mismatched tier arrays: %d/%d/%d", len(mins), len(fees), len(protocol)))
	}
	tiers := make([]domain.FeeTier, len(mins))
	for i := range mins {
		tiers[i] = domain.FeeTier{MinBalance: mins[i], FeeBps: int64(fees[i]), ProtocolBps: int64(protocol[i])}
	}
	return tiers, nil
}

// GetStakeBalance implements domain.LedgerReader.
func (l *Ledger) GetStakeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return l.callBig(ctx, l.opts.Contracts.Staking, stakingABI, "balanceOf", owner)
}

// GetMinBond implements domain.LedgerReader.
func (l *Ledger) GetMinBond(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, l.opts.Contracts.Oracle, oracleABI, "minBond")
}

// GetDisputeWindow implements domain.LedgerReader.
func (l *Ledger) GetDisputeWindow(ctx context.Context) (time.Duration, error) {
	out, err := l.call(ctx, l.opts.Contracts.Oracle, oracleABI, "disputeWindow")
	if err != nil {
		return 0, err
	}
	secs := *abi.ConvertType(out[0], new(uint64)).(*uint64)
	return time.Duration(secs) * time.Second, nil
}

// GetArbitrator implements domain.LedgerReader.
func (l *Ledger) GetArbitrator(ctx context.Context) (common.Address, error) {
	out, err := l.call(ctx, l.opts.Contracts.Oracle, oracleABI, "arbitrator")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}
