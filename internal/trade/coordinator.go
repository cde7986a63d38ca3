// Package trade coordinates a single trade from quote to reconciliation.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/marketmirror/internal/amm"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
	"github.com/alanyoungcy/marketmirror/internal/pricing"
)

// Config tunes reconciliation reporting.
type Config struct {
	// DeviationAlertPercent is the absolute quoted-vs-confirmed deviation
	// above which an execution is flagged.
	DeviationAlertPercent float64
}

// Request identifies the trade to price or execute.
type Request struct {
	MarketID  uint64
	OutcomeID uint8
	Direction domain.Direction
	AmountIn  *big.Int
	// Trader selects the fee tier. Zero means the ledger account.
	Trader common.Address
}

// Coordinator quotes and executes trades. It holds no mutable state; the
// ledger re-checks every bound it submits.
type Coordinator struct {
	ledger     domain.Ledger
	executions domain.TradeExecutionStore
	bus        domain.SignalBus
	alerts     domain.Alerter
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoordinator creates a Coordinator. executions, bus and alerts are
// optional and may be nil.
func NewCoordinator(
	ledger domain.Ledger,
	executions domain.TradeExecutionStore,
	bus domain.SignalBus,
	alerts domain.Alerter,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		executions: executions,
		bus:        bus,
		alerts:     alerts,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "trade_coordinator")),
		now:        time.Now,
	}
}

// Quote prices req against current ledger state. A pool without liquidity
// fails with domain.ErrNoLiquidity and a zero output for a positive input
// fails with domain.ErrZeroQuote.
func (c *Coordinator) Quote(ctx context.Context, req Request) (domain.TradeQuote, error) {
	market, err := c.ledger.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("trade: quote: market %d: %w", req.MarketID, err)
	}
	strategy, err := pricing.ForMarket(market)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("trade: quote: %w", err)
	}
	tier, err := c.tierFor(ctx, req.Trader)
	if err != nil {
		return domain.TradeQuote{}, err
	}

	q, err := strategy.Quote(ctx, c.ledger, pricing.Input{
		Market:    market,
		OutcomeID: req.OutcomeID,
		Direction: req.Direction,
		AmountIn:  req.AmountIn,
		Tier:      tier,
	})
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("trade: quote: %w", err)
	}
	if q.AmountOut.Sign() == 0 {
		return q, fmt.Errorf("trade: quote market %d outcome %d amount %s: %w",
			req.MarketID, req.OutcomeID, req.AmountIn, domain.ErrZeroQuote)
	}
	return q, nil
}

// Execute re-quotes req, derives the minimum acceptable output from
// slippageBps and submits the trade. A confirmed trade is never failed
// after the fact: a large deviation between quote and fill is logged,
// flagged on the execution and alerted.
func (c *Coordinator) Execute(ctx context.Context, req Request, slippageBps int64) (domain.TradeExecution, error) {
	if slippageBps < 0 || slippageBps > fixedpoint.BpsDenominator {
		return domain.TradeExecution{}, fmt.Errorf("trade: execute: %w: got %d", domain.ErrInvalidSlippage, slippageBps)
	}
	q, err := c.Quote(ctx, req)
	if err != nil {
		return domain.TradeExecution{}, err
	}
	minOut, err := fixedpoint.ApplySlippageTolerance(q.AmountOut, slippageBps)
	if err != nil {
		return domain.TradeExecution{}, fmt.Errorf("trade: execute: %w", err)
	}
	if minOut.Sign() == 0 {
		return domain.TradeExecution{}, fmt.Errorf("trade: execute market %d: quote %s at %d bps: %w",
			req.MarketID, q.AmountOut, slippageBps, domain.ErrMinimumOutputIsZero)
	}

	// Last chance to back out; nothing has been sent yet.
	if err := ctx.Err(); err != nil {
		return domain.TradeExecution{}, fmt.Errorf("trade: execute: cancelled before submit: %w", err)
	}

	receipt, err := c.ledger.SubmitTrade(ctx, domain.TradeOrder{
		MarketID:     req.MarketID,
		OutcomeID:    req.OutcomeID,
		Direction:    req.Direction,
		AmountIn:     q.AmountIn,
		MinAmountOut: minOut,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionTimeout) {
			c.logger.WarnContext(ctx, "trade submission outcome unknown",
				slog.Uint64("market_id", req.MarketID),
				slog.String("error", err.Error()),
			)
		}
		return domain.TradeExecution{}, fmt.Errorf("trade: execute market %d: %w", req.MarketID, err)
	}

	exec := c.reconcile(q, minOut, receipt)
	c.report(ctx, exec)
	return exec, nil
}

func (c *Coordinator) reconcile(q domain.TradeQuote, minOut *big.Int, receipt domain.TradeReceipt) domain.TradeExecution {
	deviation := fixedpoint.PercentageOf(receipt.AmountOut, q.AmountOut)
	return domain.TradeExecution{
		ID:               uuid.NewString(),
		Trader:           c.ledger.Account(),
		Quote:            q,
		MinAmountOut:     minOut,
		Receipt:          receipt,
		DeviationPercent: deviation,
		DeviationFlagged: c.cfg.DeviationAlertPercent > 0 && math.Abs(deviation) > c.cfg.DeviationAlertPercent,
		ExecutedAt:       c.now().UTC(),
	}
}

// report persists, publishes and alerts. Every step is best-effort; the
// trade is already final on the ledger.
func (c *Coordinator) report(ctx context.Context, exec domain.TradeExecution) {
	attrs := []any{
		slog.String("execution_id", exec.ID),
		slog.Uint64("market_id", exec.Quote.MarketID),
		slog.Int("outcome_id", int(exec.Quote.OutcomeID)),
		slog.String("quoted", exec.Quote.AmountOut.String()),
		slog.String("confirmed", exec.Receipt.AmountOut.String()),
		slog.Float64("deviation_pct", exec.DeviationPercent),
		slog.String("tx", exec.Receipt.TxHash.Hex()),
	}
	if exec.DeviationFlagged {
		c.logger.WarnContext(ctx, "trade fill deviates from quote", attrs...)
	} else {
		c.logger.InfoContext(ctx, "trade executed", attrs...)
	}

	if c.executions != nil {
		if err := c.executions.Insert(ctx, exec); err != nil {
			c.logger.WarnContext(ctx, "persist trade execution failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if c.bus != nil {
		payload, _ := json.Marshal(executionEvent(exec))
		if err := c.bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
			c.logger.WarnContext(ctx, "publish trade event failed", slog.String("error", err.Error()))
		}
		if err := c.bus.StreamAppend(ctx, domain.ChannelTrades, payload); err != nil {
			c.logger.WarnContext(ctx, "record trade event failed", slog.String("error", err.Error()))
		}
	}

	if exec.DeviationFlagged && c.alerts != nil {
		msg := fmt.Sprintf("market %d outcome %d: quoted %s, confirmed %s (%.2f%%), tx %s",
			exec.Quote.MarketID, exec.Quote.OutcomeID,
			fixedpoint.ToDisplay(exec.Quote.AmountOut, fixedpoint.Decimals, 6),
			fixedpoint.ToDisplay(exec.Receipt.AmountOut, fixedpoint.Decimals, 6),
			exec.DeviationPercent, exec.Receipt.TxHash.Hex())
		if err := c.alerts.Notify(ctx, domain.EventTradeDeviation, "Trade deviation", msg); err != nil {
			c.logger.WarnContext(ctx, "deviation alert failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) tierFor(ctx context.Context, trader common.Address) (domain.FeeTier, error) {
	if trader == (common.Address{}) {
		trader = c.ledger.Account()
	}
	tiers, err := c.ledger.GetFeeTiers(ctx)
	if err != nil {
		return domain.FeeTier{}, fmt.Errorf("trade: fee tiers: %w", err)
	}
	balance, err := c.ledger.GetStakeBalance(ctx, trader)
	if err != nil {
		return domain.FeeTier{}, fmt.Errorf("trade: stake balance of %s: %w", trader.Hex(), err)
	}
	return amm.EffectiveTier(tiers, balance), nil
}

// ExecutionEvent is the bus payload for a confirmed trade.
type ExecutionEvent struct {
	Event            string  `json:"event"`
	ID               string  `json:"id"`
	MarketID         uint64  `json:"market_id"`
	OutcomeID        uint8   `json:"outcome_id"`
	Direction        string  `json:"direction"`
	AmountIn         string  `json:"amount_in"`
	Quoted           string  `json:"quoted"`
	Confirmed        string  `json:"confirmed"`
	Fee              string  `json:"fee"`
	DeviationPercent float64 `json:"deviation_pct"`
	Flagged          bool    `json:"flagged"`
	TxHash           string  `json:"tx_hash"`
	Timestamp        string  `json:"timestamp"`
}

func executionEvent(e domain.TradeExecution) ExecutionEvent {
	return ExecutionEvent{
		Event:            "trade_executed",
		ID:               e.ID,
		MarketID:         e.Quote.MarketID,
		OutcomeID:        e.Quote.OutcomeID,
		Direction:        string(e.Quote.Direction),
		AmountIn:         e.Quote.AmountIn.String(),
		Quoted:           e.Quote.AmountOut.String(),
		Confirmed:        e.Receipt.AmountOut.String(),
		Fee:              e.Quote.Fee.String(),
		DeviationPercent: e.DeviationPercent,
		Flagged:          e.DeviationFlagged,
		TxHash:           e.Receipt.TxHash.Hex(),
		Timestamp:        e.ExecutedAt.Format(time.RFC3339),
	}
}
