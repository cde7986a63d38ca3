package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/platform/airesolver"
	"github.com/alanyoungcy/marketmirror/internal/service"
)

// ResolutionService is what the resolution endpoints need from the service
// layer.
type ResolutionService interface {
	Get(ctx context.Context, marketID uint64) (*domain.Resolution, error)
	Actions(ctx context.Context, marketID uint64, caller common.Address) (service.ActionsView, error)
	History(ctx context.Context, marketID uint64) ([]domain.ResolutionSnapshot, error)
	Propose(ctx context.Context, in domain.ProposeIntent) (domain.TxReceipt, error)
	ProposeFromOracle(ctx context.Context, marketID uint64, requestID string, bond *big.Int) (domain.TxReceipt, error)
	Dispute(ctx context.Context, in domain.DisputeIntent) (domain.TxReceipt, error)
	Finalize(ctx context.Context, marketID uint64) (domain.TxReceipt, error)
	FinalizeDisputed(ctx context.Context, marketID uint64, outcome uint8) (domain.TxReceipt, error)
	RequestAI(ctx context.Context, marketID uint64) (airesolver.Status, error)
	AIStatus(ctx context.Context, requestID string) (airesolver.Status, error)
	AIHistory(ctx context.Context, marketID uint64) ([]airesolver.Result, error)
}

// ResolutionHandler serves the resolution protocol endpoints.
type ResolutionHandler struct {
	svc    ResolutionService
	logger *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(svc ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{svc: svc, logger: logger}
}

type resolutionView struct {
	MarketID        uint64 `json:"market_id"`
	State           string `json:"state"`
	ProposedOutcome uint8  `json:"proposed_outcome"`
	FinalOutcome    uint8  `json:"final_outcome"`
	ProposalTime    string `json:"proposal_time,omitempty"`
	Proposer        string `json:"proposer,omitempty"`
	ProposerBond    amount `json:"proposer_bond"`
	Disputer        string `json:"disputer,omitempty"`
	DisputerBond    amount `json:"disputer_bond"`
	EvidenceURI     string `json:"evidence_uri,omitempty"`
	DisputeReason   string `json:"dispute_reason,omitempty"`
	FinalizedAt     string `json:"finalized_at,omitempty"`
}

func newResolutionView(r domain.Resolution) resolutionView {
	return resolutionView{
		MarketID:        r.MarketID,
		State:           r.State.String(),
		ProposedOutcome: r.ProposedOutcome,
		FinalOutcome:    r.FinalOutcome,
		ProposalTime:    timeOrEmpty(r.ProposalTime),
		Proposer:        addrOrEmpty(r.Proposer),
		ProposerBond:    newAmount(r.ProposerBond),
		Disputer:        addrOrEmpty(r.Disputer),
		DisputerBond:    newAmount(r.DisputerBond),
		EvidenceURI:     r.EvidenceURI,
		DisputeReason:   r.DisputeReason,
		FinalizedAt:     timeOrEmpty(r.FinalizedAt),
	}
}

type actionView struct {
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type settlementView struct {
	Winner           string `json:"winner"`
	ReturnedToWinner amount `json:"returned_to_winner"`
	Forfeited        amount `json:"forfeited"`
	ForfeitedBy      string `json:"forfeited_by,omitempty"`
}

type txView struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

func newTxView(r domain.TxReceipt) txView {
	return txView{TxHash: r.TxHash.Hex(), BlockNumber: r.BlockNumber, GasUsed: r.GasUsed}
}

// Get returns the market's resolution record. A market with no record
// answers 200 with a null resolution.
// GET /api/markets/{id}/resolution
func (h *ResolutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get resolution", err)
		return
	}
	var view *resolutionView
	if rec != nil {
		v := newResolutionView(*rec)
		view = &v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id,
		"resolution": view,
	})
}

// Actions reports which resolution operations caller may perform now and
// why the others are refused.
// GET /api/markets/{id}/resolution/actions?caller=0x...
func (h *ResolutionHandler) Actions(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	caller, err := parseAddress(r.URL.Query().Get("caller"))
	if err != nil {
		writeFailure(w, r, h.logger, "invalid caller", err)
		return
	}

	av, err := h.svc.Actions(r.Context(), id, caller)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to evaluate actions", err)
		return
	}

	actions := make([]actionView, 0, len(av.Statuses))
	for _, st := range av.Statuses {
		a := actionView{Action: string(st.Action), Allowed: st.Allowed}
		if st.Reason != nil {
			a.Reason = st.Reason.Error()
		}
		actions = append(actions, a)
	}
	resp := map[string]any{
		"market_id":  av.MarketID,
		"actions":    actions,
		"resolution": nil,
	}
	if av.Resolution != nil {
		resp["resolution"] = newResolutionView(*av.Resolution)
		resp["window_end"] = timeOrEmpty(av.WindowEnd)
	}
	if av.Settlement != nil {
		resp["settlement"] = settlementView{
			Winner:           av.Settlement.Winner.Hex(),
			ReturnedToWinner: newAmount(av.Settlement.ReturnedToWinner),
			Forfeited:        newAmount(av.Settlement.Forfeited),
			ForfeitedBy:      addrOrEmpty(av.Settlement.ForfeitedBy),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// History returns the recorded state changes of a market's resolution.
// GET /api/markets/{id}/resolution/history
func (h *ResolutionHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	snaps, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to get resolution history", err)
		return
	}
	type snapshotView struct {
		resolutionView
		ObservedAt string `json:"observed_at"`
	}
	out := make([]snapshotView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotView{resolutionView: newResolutionView(s.Resolution), ObservedAt: timeOrEmpty(s.ObservedAt)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "history": out})
}

type proposeRequest struct {
	Outcome     uint8  `json:"outcome"`
	Bond        string `json:"bond"`
	EvidenceURI string `json:"evidence_uri"`
	// RequestID proposes the verified result of an AI resolution request
	// instead of Outcome and EvidenceURI.
	RequestID string `json:"request_id"`
}

// Propose submits a proposal, either manual or from a signed AI result.
// POST /api/markets/{id}/resolution/propose
func (h *ResolutionHandler) Propose(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	var body proposeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(w, r, h.logger, "invalid propose request", err)
		return
	}
	bond, err := parseBond(body.Bond)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid propose request", err)
		return
	}

	var receipt domain.TxReceipt
	if body.RequestID != "" {
		receipt, err = h.svc.ProposeFromOracle(r.Context(), id, body.RequestID, bond)
	} else {
		receipt, err = h.svc.Propose(r.Context(), domain.ProposeIntent{
			MarketID:    id,
			OutcomeID:   body.Outcome,
			Bond:        bond,
			EvidenceURI: body.EvidenceURI,
		})
	}
	if err != nil {
		writeFailure(w, r, h.logger, "propose failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newTxView(receipt))
}

type disputeRequest struct {
	Bond   string `json:"bond"`
	Reason string `json:"reason"`
}

// Dispute challenges the current proposal.
// POST /api/markets/{id}/resolution/dispute
func (h *ResolutionHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	var body disputeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(w, r, h.logger, "invalid dispute request", err)
		return
	}
	bond, err := parseBond(body.Bond)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid dispute request", err)
		return
	}
	receipt, err := h.svc.Dispute(r.Context(), domain.DisputeIntent{MarketID: id, Bond: bond, Reason: body.Reason})
	if err != nil {
		writeFailure(w, r, h.logger, "dispute failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newTxView(receipt))
}

type finalizeRequest struct {
	// Outcome is the arbitrator's ruling; only used for disputed markets.
	Outcome *uint8 `json:"outcome"`
}

// Finalize settles an undisputed proposal, or with an outcome submits the
// arbitrator's ruling on a disputed one.
// POST /api/markets/{id}/resolution/finalize
func (h *ResolutionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	var body finalizeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeFailure(w, r, h.logger, "invalid finalize request", err)
			return
		}
	}

	var receipt domain.TxReceipt
	if body.Outcome != nil {
		receipt, err = h.svc.FinalizeDisputed(r.Context(), id, *body.Outcome)
	} else {
		receipt, err = h.svc.Finalize(r.Context(), id)
	}
	if err != nil {
		writeFailure(w, r, h.logger, "finalize failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newTxView(receipt))
}

// RequestAI starts an AI resolution request for the market.
// POST /api/markets/{id}/resolution/ai
func (h *ResolutionHandler) RequestAI(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	st, err := h.svc.RequestAI(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "ai resolution request failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// AIHistory lists the resolver's past results for the market.
// GET /api/markets/{id}/resolution/ai
func (h *ResolutionHandler) AIHistory(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeFailure(w, r, h.logger, "invalid market", err)
		return
	}
	results, err := h.svc.AIHistory(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "ai resolution history failed", err)
		return
	}
	if results == nil {
		results = []airesolver.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "results": results})
}

// AIStatus reports the progress of an AI resolution request.
// GET /api/ai/requests/{requestId}
func (h *ResolutionHandler) AIStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.AIStatus(r.Context(), r.PathValue("requestId"))
	if err != nil {
		writeFailure(w, r, h.logger, "ai status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseBond(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: bond is required", errBadRequest)
	}
	return parseAmount(raw)
}
