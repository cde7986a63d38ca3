package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/trade"
)

// TradeService prices and executes trades.
type TradeService interface {
	Quote(ctx context.Context, req trade.Request) (domain.TradeQuote, error)
	Execute(ctx context.Context, req trade.Request, slippageBps int64) (domain.TradeExecution, error)
}

// TradeHandler serves quote and execution endpoints.
type TradeHandler struct {
	trades          TradeService
	executions      domain.TradeExecutionStore
	defaultSlippage int64
	logger          *slog.Logger
}

// NewTradeHandler creates a TradeHandler. executions may be nil, in which
// case execution history is unavailable.
func NewTradeHandler(trades TradeService, executions domain.TradeExecutionStore, defaultSlippageBps int64, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:          trades,
		executions:      executions,
		defaultSlippage: defaultSlippageBps,
		logger:          logger,
	}
}

type quoteView struct {
	MarketID           uint64  `json:"market_id"`
	OutcomeID          uint8   `json:"outcome_id"`
	Direction          string  `json:"direction"`
	AmountIn           amount  `json:"amount_in"`
	AmountOut          amount  `json:"amount_out"`
	Fee                amount  `json:"fee"`
	FeeBps             int64   `json:"fee_bps"`
	PriceImpactPercent float64 `json:"price_impact_pct"`
	Strategy           string  `json:"strategy"`
	ZeroOutput         bool    `json:"zero_output"`
}

func newQuoteView(q domain.TradeQuote) quoteView {
	return quoteView{
		MarketID:           q.MarketID,
		OutcomeID:          q.OutcomeID,
		Direction:          string(q.Direction),
		AmountIn:           newAmount(q.AmountIn),
		AmountOut:          newAmount(q.AmountOut),
		Fee:                newAmount(q.Fee),
		FeeBps:             q.FeeBps,
		PriceImpactPercent: q.PriceImpactPercent,
		Strategy:           q.Strategy,
		ZeroOutput:         q.AmountOut == nil || q.AmountOut.Sign() == 0,
	}
}

type executionView struct {
	ID               string    `json:"id"`
	Trader           string    `json:"trader"`
	Quote            quoteView `json:"quote"`
	MinAmountOut     amount    `json:"min_amount_out"`
	Confirmed        amount    `json:"confirmed_amount_out"`
	DeviationPercent float64   `json:"deviation_pct"`
	DeviationFlagged bool      `json:"deviation_flagged"`
	TxHash           string    `json:"tx_hash"`
	BlockNumber      uint64    `json:"block_number"`
	GasUsed          uint64    `json:"gas_used"`
	ExecutedAt       string    `json:"executed_at"`
}

func newExecutionView(e domain.TradeExecution) executionView {
	return executionView{
		ID:               e.ID,
		Trader:           e.Trader.Hex(),
		Quote:            newQuoteView(e.Quote),
		MinAmountOut:     newAmount(e.MinAmountOut),
		Confirmed:        newAmount(e.Receipt.AmountOut),
		DeviationPercent: e.DeviationPercent,
		DeviationFlagged: e.DeviationFlagged,
		TxHash:           e.Receipt.TxHash.Hex(),
		BlockNumber:      e.Receipt.BlockNumber,
		GasUsed:          e.Receipt.GasUsed,
		ExecutedAt:       timeOrEmpty(e.ExecutedAt),
	}
}

// Quote prices a trade without submitting it. A zero output is returned as
// data with zero_output set.
// GET /api/markets/{id}/quote?outcome=0&direction=buy&amount=1.5&trader=0x...
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := buildRequest(r, q.Get("outcome"), q.Get("direction"), q.Get("amount"), q.Get("trader"))
	if err != nil {
		writeFailure(w, r, h.logger, "invalid quote request", err)
		return
	}

	quote, err := h.trades.Quote(r.Context(), req)
	if err != nil && !errors.Is(err, domain.ErrZeroQuote) {
		writeFailure(w, r, h.logger, "quote failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(quote))
}

type executeRequest struct {
	Outcome     uint8  `json:"outcome"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	SlippageBps *int64 `json:"slippage_bps"`
}

// Execute submits a trade with a slippage-protected minimum output.
// POST /api/markets/{id}/trades
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(w, r, h.logger, "invalid trade request", err)
		return
	}
	req, err := buildRequest(r, strconv.FormatUint(uint64(body.Outcome), 10), body.Direction, body.Amount, "")
	if err != nil {
		writeFailure(w, r, h.logger, "invalid trade request", err)
		return
	}
	slippage := h.defaultSlippage
	if body.SlippageBps != nil {
		slippage = *body.SlippageBps
	}

	exec, err := h.trades.Execute(r.Context(), req, slippage)
	if err != nil {
		writeFailure(w, r, h.logger, "trade failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, newExecutionView(exec))
}

// ListExecutions returns this service's recorded executions for a market.
// GET /api/markets/{id}/trades?limit=50&offset=0
func (h *TradeHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	if h.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history is not enabled")
		return
	}

	opts := parseListOpts(r)
	execs, err := h.executions.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to list executions", err)
		return
	}
	views := make([]executionView, 0, len(execs))
	for _, e := range execs {
		views = append(views, newExecutionView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": views,
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

// GetExecution returns a single execution by id.
// GET /api/trades/{tradeId}
func (h *TradeHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution history is not enabled")
		return
	}
	exec, err := h.executions.GetByID(r.Context(), r.PathValue("tradeId"))
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get execution", err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionView(exec))
}

func buildRequest(r *http.Request, outcome, direction, amountText, trader string) (trade.Request, error) {
	id, err := marketID(r)
	if err != nil {
		return trade.Request{}, err
	}
	out, err := parseOutcome(outcome)
	if err != nil {
		return trade.Request{}, err
	}
	dir := domain.Direction(direction)
	if !dir.Valid() {
		return trade.Request{}, fmt.Errorf(`%w: direction must be "buy" or "sell"`, errBadRequest)
	}
	amt, err := parseAmount(amountText)
	if err != nil {
		return trade.Request{}, err
	}
	who, err := parseAddress(trader)
	if err != nil {
		return trade.Request{}, err
	}
	return trade.Request{
		MarketID:  id,
		OutcomeID: out,
		Direction: dir,
		AmountIn:  amt,
		Trader:    who,
	}, nil
}
