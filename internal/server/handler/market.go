package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/amm"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
	"github.com/alanyoungcy/marketmirror/internal/lmsr"
)

// MarketReader is the read-only ledger surface the market endpoints use.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID uint64) (domain.Market, error)
	GetReserves(ctx context.Context, marketID uint64) (domain.Reserves, error)
	GetPrices(ctx context.Context, marketID uint64) ([]int64, error)
}

// MetadataFetcher resolves a market's metadata reference.
type MetadataFetcher interface {
	Fetch(ctx context.Context, ref string) (domain.MarketMetadata, error)
}

// VolumeService reports traded volume.
type VolumeService interface {
	Volume(ctx context.Context, marketID, fromBlock uint64) domain.VolumeReport
}

// LiquidityService reports LP positions.
type LiquidityService interface {
	Position(ctx context.Context, marketID uint64, owner common.Address) (domain.LPPosition, error)
}

// MarketHandler serves market state, metadata, volume and LP endpoints.
type MarketHandler struct {
	ledger    MarketReader
	metadata  MetadataFetcher
	volume    VolumeService
	liquidity LiquidityService
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(ledger MarketReader, metadata MetadataFetcher, volume VolumeService, liquidity LiquidityService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger:    ledger,
		metadata:  metadata,
		volume:    volume,
		liquidity: liquidity,
		logger:    logger,
	}
}

type outcomeView struct {
	OutcomeID   int      `json:"outcome_id"`
	Reserve     amount   `json:"reserve"`
	Probability string   `json:"probability"`
	ImpliedOdds *float64 `json:"implied_odds,omitempty"`
}

type marketView struct {
	MarketID        uint64        `json:"market_id"`
	Status          string        `json:"status"`
	OutcomeCount    int           `json:"outcome_count"`
	CollateralToken string        `json:"collateral_token"`
	CloseTime       string        `json:"close_time"`
	MetadataRef     string        `json:"metadata_ref"`
	Strategy        string        `json:"strategy"`
	Outcomes        []outcomeView `json:"outcomes"`
	LiquidityDepth  amount        `json:"liquidity_depth"`
	Favorite        *int          `json:"favorite_outcome,omitempty"`
}

// GetMarket returns the market's ledger state with per-outcome reserves and
// probabilities.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	ctx := r.Context()

	m, err := h.ledger.GetMarket(ctx, id)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get market", err)
		return
	}
	reserves, err := h.ledger.GetReserves(ctx, id)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get reserves", err)
		return
	}

	view := marketView{
		MarketID:        m.ID,
		Status:          string(m.Status),
		OutcomeCount:    m.OutcomeCount,
		CollateralToken: m.CollateralToken.Hex(),
		CloseTime:       timeOrEmpty(m.CloseTime),
		MetadataRef:     m.MetadataRef,
		LiquidityDepth:  newAmount(lmsr.LiquidityDepth(reserves)),
	}

	switch {
	case m.OutcomeCount == domain.BinaryOutcomes:
		view.Strategy = amm.StrategyName
		yes, no := reserves.Binary()
		view.Outcomes = []outcomeView{
			{OutcomeID: 0, Reserve: newAmount(yes), Probability: fixedpoint.ToDisplay(amm.Price(yes, no), fixedpoint.Decimals, 4)},
			{OutcomeID: 1, Reserve: newAmount(no), Probability: fixedpoint.ToDisplay(amm.Price(no, yes), fixedpoint.Decimals, 4)},
		}
	default:
		view.Strategy = lmsr.StrategyName
		prices, err := h.ledger.GetPrices(ctx, id)
		if err != nil {
			writeFailure(w, r, h.logger, "failed to get prices", err)
			return
		}
		probs := lmsr.Probabilities(prices)
		view.Outcomes = make([]outcomeView, len(prices))
		for i, p := range prices {
			o := outcomeView{OutcomeID: i, Probability: probs[i].StringFixed(4)}
			if i < len(reserves.Amounts) {
				o.Reserve = newAmount(reserves.Amounts[i])
			} else {
				o.Reserve = newAmount(nil)
			}
			if odds := lmsr.ImpliedOdds(p); !math.IsInf(odds, 1) {
				o.ImpliedOdds = &odds
			}
			view.Outcomes[i] = o
		}
		if fav, err := lmsr.FavoriteOutcome(prices); err == nil {
			view.Favorite = &fav
		}
	}

	writeJSON(w, http.StatusOK, view)
}

// GetMetadata resolves the market's content-addressed metadata.
// GET /api/markets/{id}/metadata
func (h *MarketHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	m, err := h.ledger.GetMarket(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get market", err)
		return
	}
	md, err := h.metadata.Fetch(r.Context(), m.MetadataRef)
	if err != nil {
		writeFailure(w, r, h.logger, "metadata unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":    id,
		"metadata_ref": m.MetadataRef,
		"metadata":     md,
	})
}

// GetVolume sums trade events for the market. A failed event scan answers
// 200 with zero volume and approximate set.
// GET /api/markets/{id}/volume?from_block=0
func (h *MarketHandler) GetVolume(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	var from uint64
	if v := r.URL.Query().Get("from_block"); v != "" {
		from, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_block")
			return
		}
	}

	rep := h.volume.Volume(r.Context(), id, from)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":   rep.MarketID,
		"volume":      newAmount(rep.Volume),
		"fees":        newAmount(rep.Fees),
		"trade_count": rep.TradeCount,
		"last_block":  rep.LastBlock,
		"approximate": rep.Approximate,
	})
}

// GetLPPosition reports an owner's share of the market's pool.
// GET /api/markets/{id}/lp/{owner}
func (h *MarketHandler) GetLPPosition(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	owner, err := parseAddress(r.PathValue("owner"))
	if err != nil || owner == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	pos, err := h.liquidity.Position(r.Context(), id, owner)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get lp position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":          pos.MarketID,
		"owner":              pos.Owner.Hex(),
		"lp_tokens":          newAmount(pos.LPTokens),
		"total_supply":       newAmount(pos.TotalSupply),
		"share_pct":          pos.SharePercent,
		"value":              newAmount(pos.Value),
		"supply_approximate": pos.SupplyApproximate,
	})
}
