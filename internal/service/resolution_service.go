package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/crypto"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/evidence"
	"github.com/alanyoungcy/marketmirror/internal/platform/airesolver"
	"github.com/alanyoungcy/marketmirror/internal/resolution"
)

// ErrOracleNotConfigured is returned by the AI flows when no resolver or no
// oracle signer is wired.
var ErrOracleNotConfigured = errors.New("ai oracle not configured")

// ErrHistoryNotConfigured is returned when no resolution store is wired.
var ErrHistoryNotConfigured = errors.New("resolution history not configured")

// Resolver is the subset of the AI resolver client the service uses.
type Resolver interface {
	RequestResolution(ctx context.Context, req airesolver.ResolutionRequest) (airesolver.Status, error)
	Status(ctx context.Context, requestID string) (airesolver.Status, error)
	Result(ctx context.Context, requestID string) (airesolver.Result, error)
	History(ctx context.Context, marketID uint64) ([]airesolver.Result, error)
}

// MetadataSource resolves a market's metadata reference.
type MetadataSource interface {
	Fetch(ctx context.Context, ref string) (domain.MarketMetadata, error)
}

// ResolutionConfig configures oracle verification.
type ResolutionConfig struct {
	// Domain is the oracle contract's EIP-712 domain.
	Domain crypto.Domain
	// OracleSigner is the only address whose proposals are accepted.
	OracleSigner common.Address
	// MinConfidence rejects AI results below this score (0-100).
	MinConfidence int
}

// ResolutionDeps are the collaborators of a ResolutionService. Only Ledger
// is required.
type ResolutionDeps struct {
	Ledger   domain.Ledger
	Store    domain.ResolutionStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Alerts   domain.Alerter
	Resolver Resolver
	Metadata MetadataSource
}

// ResolutionService runs resolution operations: it evaluates the local
// guards, submits to the ledger, then refreshes and records the mirrored
// record.
type ResolutionService struct {
	deps      ResolutionDeps
	cfg       ResolutionConfig
	domainSep common.Hash
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolutionService creates a ResolutionService.
func NewResolutionService(deps ResolutionDeps, cfg ResolutionConfig, logger *slog.Logger) *ResolutionService {
	return &ResolutionService{
		deps:      deps,
		cfg:       cfg,
		domainSep: crypto.DomainSeparator(cfg.Domain),
		logger:    logger.With(slog.String("component", "resolution_service")),
		now:       time.Now,
	}
}

// ActionsView is the resolution record together with what caller may do
// next.
type ActionsView struct {
	MarketID   uint64
	Resolution *domain.Resolution
	WindowEnd  time.Time
	Statuses   []resolution.ActionStatus
	Settlement *domain.BondSettlement
}

// Get returns the current record, or nil when the market has none.
func (s *ResolutionService) Get(ctx context.Context, marketID uint64) (*domain.Resolution, error) {
	rec, err := s.deps.Ledger.GetResolution(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: get resolution %d: %w", marketID, err)
	}
	if rec != nil {
		s.persist(ctx, *rec)
	}
	return rec, nil
}

// Actions evaluates every resolution operation for caller. A zero caller
// means the ledger account.
func (s *ResolutionService) Actions(ctx context.Context, marketID uint64, caller common.Address) (ActionsView, error) {
	if caller == (common.Address{}) {
		caller = s.deps.Ledger.Account()
	}
	market, rec, m, err := s.load(ctx, marketID)
	if err != nil {
		return ActionsView{}, err
	}
	view := ActionsView{
		MarketID:   marketID,
		Resolution: rec,
		Statuses:   m.AllowedActions(rec, market, caller, s.now()),
	}
	if rec != nil {
		view.WindowEnd = m.WindowEnd(rec)
		if st, ok := resolution.Settle(rec); ok {
			view.Settlement = &st
		}
	}
	return view, nil
}

// Propose submits a proposal after checking it locally.
func (s *ResolutionService) Propose(ctx context.Context, in domain.ProposeIntent) (domain.TxReceipt, error) {
	market, rec, m, err := s.load(ctx, in.MarketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if err := m.CheckPropose(rec, market, in, s.now()); err != nil {
		return domain.TxReceipt{}, err
	}
	return s.submit(ctx, resolution.ActionPropose, in.MarketID, map[string]any{
		"outcome_id":   in.OutcomeID,
		"bond":         in.Bond.String(),
		"evidence_uri": in.EvidenceURI,
		"signed":       in.Signed != nil,
	}, func() (domain.TxReceipt, error) {
		return s.deps.Ledger.SubmitPropose(ctx, in)
	})
}

// ProposeFromOracle fetches an AI result, verifies the signed proposal it
// carries and submits it with bond. The evidence hash is checked against
// the result's sources in the order the resolver returned them.
func (s *ResolutionService) ProposeFromOracle(ctx context.Context, marketID uint64, requestID string, bond *big.Int) (domain.TxReceipt, error) {
	if s.deps.Resolver == nil || s.cfg.OracleSigner == (common.Address{}) {
		return domain.TxReceipt{}, fmt.Errorf("service: propose from oracle: %w", ErrOracleNotConfigured)
	}
	res, err := s.deps.Resolver.Result(ctx, requestID)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("service: propose from oracle: %w", err)
	}
	signed, err := s.VerifyResult(marketID, res)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return s.Propose(ctx, domain.ProposeIntent{
		MarketID:    marketID,
		OutcomeID:   res.OutcomeID,
		Bond:        bond,
		EvidenceURI: res.EvidenceURL,
		Signed:      &signed,
	})
}

// VerifyResult checks that res carries a proposal for marketID signed by
// the configured oracle, binding the same outcome and evidence, and that
// it is currently within its validity window.
func (s *ResolutionService) VerifyResult(marketID uint64, res airesolver.Result) (domain.SignedProposal, error) {
	fail := func(format string, args ...any) (domain.SignedProposal, error) {
		return domain.SignedProposal{}, fmt.Errorf("service: verify oracle result %s: "+format,
			append([]any{res.RequestID}, args...)...)
	}

	if res.MarketID != marketID {
		return fail("%w: result is for market %d", domain.ErrInvalidProposal, res.MarketID)
	}
	if res.Confidence < s.cfg.MinConfidence {
		return fail("%w: confidence %d below %d", domain.ErrInvalidProposal, res.Confidence, s.cfg.MinConfidence)
	}
	if res.Proposal == nil {
		return fail("%w: result carries no signed proposal", domain.ErrInvalidProposal)
	}
	signed, err := res.Proposal.ToDomain()
	if err != nil {
		return fail("%w", err)
	}
	p := signed.Proposal
	if err := crypto.ValidateProposal(p); err != nil {
		return fail("%w", err)
	}
	if p.MarketID != marketID || p.OutcomeID != uint64(res.OutcomeID) {
		return fail("%w: proposal binds market %d outcome %d", domain.ErrInvalidProposal, p.MarketID, p.OutcomeID)
	}

	if err := evidence.Validate(res.Sources); err != nil {
		return fail("%w", err)
	}
	want, err := evidence.Hash(res.Sources)
	if err != nil {
		return fail("%w", err)
	}
	if common.BytesToHash(p.EvidenceHash) != want {
		return fail("%w: evidence hash does not match sources", domain.ErrInvalidEvidence)
	}

	now := uint64(s.now().Unix())
	if now < p.NotBefore || now >= p.Deadline {
		return fail("%w: valid from %d until %d", domain.ErrNotYetEligible, p.NotBefore, p.Deadline)
	}

	if !crypto.IsSignedBy(p, s.domainSep, signed.Signature, s.cfg.OracleSigner) {
		return fail("%w: not signed by %s", domain.ErrInvalidSignature, s.cfg.OracleSigner.Hex())
	}
	return signed, nil
}

// Dispute submits a dispute after checking it locally.
func (s *ResolutionService) Dispute(ctx context.Context, in domain.DisputeIntent) (domain.TxReceipt, error) {
	_, rec, m, err := s.load(ctx, in.MarketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if err := m.CheckDispute(rec, in, s.now()); err != nil {
		return domain.TxReceipt{}, err
	}
	return s.submit(ctx, resolution.ActionDispute, in.MarketID, map[string]any{
		"bond":   in.Bond.String(),
		"reason": in.Reason,
	}, func() (domain.TxReceipt, error) {
		return s.deps.Ledger.SubmitDispute(ctx, in)
	})
}

// Finalize settles an undisputed proposal once its window has passed.
func (s *ResolutionService) Finalize(ctx context.Context, marketID uint64) (domain.TxReceipt, error) {
	_, rec, m, err := s.load(ctx, marketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if err := m.CheckFinalize(rec, s.now()); err != nil {
		return domain.TxReceipt{}, err
	}
	return s.submit(ctx, resolution.ActionFinalize, marketID, nil, func() (domain.TxReceipt, error) {
		return s.deps.Ledger.SubmitFinalize(ctx, marketID)
	})
}

// FinalizeDisputed submits the arbitrator's ruling. The ledger account must
// be the arbitrator.
func (s *ResolutionService) FinalizeDisputed(ctx context.Context, marketID uint64, outcome uint8) (domain.TxReceipt, error) {
	market, rec, m, err := s.load(ctx, marketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if err := m.CheckFinalizeDisputed(rec, market, s.deps.Ledger.Account(), outcome); err != nil {
		return domain.TxReceipt{}, err
	}
	return s.submit(ctx, resolution.ActionFinalizeDisputed, marketID, map[string]any{
		"outcome_id": outcome,
	}, func() (domain.TxReceipt, error) {
		return s.deps.Ledger.SubmitFinalizeDisputed(ctx, marketID, outcome)
	})
}

// RequestAI asks the resolver to research a market using its metadata.
func (s *ResolutionService) RequestAI(ctx context.Context, marketID uint64) (airesolver.Status, error) {
	if s.deps.Resolver == nil || s.deps.Metadata == nil {
		return airesolver.Status{}, fmt.Errorf("service: request ai resolution: %w", ErrOracleNotConfigured)
	}
	market, err := s.deps.Ledger.GetMarket(ctx, marketID)
	if err != nil {
		return airesolver.Status{}, fmt.Errorf("service: request ai resolution: market %d: %w", marketID, err)
	}
	md, err := s.deps.Metadata.Fetch(ctx, market.MetadataRef)
	if err != nil {
		return airesolver.Status{}, fmt.Errorf("service: request ai resolution: %w", err)
	}
	st, err := s.deps.Resolver.RequestResolution(ctx, airesolver.ResolutionRequest{
		MarketID: marketID,
		Metadata: airesolver.Metadata{Question: md.Question, Description: md.Description},
	})
	if err != nil {
		return airesolver.Status{}, fmt.Errorf("service: request ai resolution: %w", err)
	}
	s.logger.InfoContext(ctx, "ai resolution requested",
		slog.Uint64("market_id", marketID),
		slog.String("request_id", st.RequestID),
	)
	return st, nil
}

// AIStatus proxies the resolver's request status.
func (s *ResolutionService) AIStatus(ctx context.Context, requestID string) (airesolver.Status, error) {
	if s.deps.Resolver == nil {
		return airesolver.Status{}, fmt.Errorf("service: ai status: %w", ErrOracleNotConfigured)
	}
	st, err := s.deps.Resolver.Status(ctx, requestID)
	if err != nil {
		return airesolver.Status{}, fmt.Errorf("service: ai status: %w", err)
	}
	return st, nil
}

// AIHistory lists the resolver's past results for a market.
func (s *ResolutionService) AIHistory(ctx context.Context, marketID uint64) ([]airesolver.Result, error) {
	if s.deps.Resolver == nil {
		return nil, fmt.Errorf("service: ai history: %w", ErrOracleNotConfigured)
	}
	out, err := s.deps.Resolver.History(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: ai history %d: %w", marketID, err)
	}
	return out, nil
}

// History returns the persisted snapshots of a market's resolution.
func (s *ResolutionService) History(ctx context.Context, marketID uint64) ([]domain.ResolutionSnapshot, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("service: resolution history: %w", ErrHistoryNotConfigured)
	}
	out, err := s.deps.Store.History(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("service: resolution history %d: %w", marketID, err)
	}
	return out, nil
}

// load reads the market, its record and the current protocol parameters.
func (s *ResolutionService) load(ctx context.Context, marketID uint64) (domain.Market, *domain.Resolution, *resolution.Machine, error) {
	market, err := s.deps.Ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, nil, fmt.Errorf("service: market %d: %w", marketID, err)
	}
	rec, err := s.deps.Ledger.GetResolution(ctx, marketID)
	if err != nil {
		return domain.Market{}, nil, nil, fmt.Errorf("service: resolution %d: %w", marketID, err)
	}
	m, err := s.machine(ctx)
	if err != nil {
		return domain.Market{}, nil, nil, err
	}
	return market, rec, m, nil
}

func (s *ResolutionService) machine(ctx context.Context) (*resolution.Machine, error) {
	bond, err := s.deps.Ledger.GetMinBond(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: min bond: %w", err)
	}
	window, err := s.deps.Ledger.GetDisputeWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: dispute window: %w", err)
	}
	arbitrator, err := s.deps.Ledger.GetArbitrator(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: arbitrator: %w", err)
	}
	return resolution.New(resolution.Params{MinBond: bond, DisputeWindow: window, Arbitrator: arbitrator}), nil
}

// submit sends one ledger operation and records the outcome. A timeout is
// reported as such; the record is not refreshed because the outcome is
// unknown.
func (s *ResolutionService) submit(
	ctx context.Context,
	action resolution.Action,
	marketID uint64,
	detail map[string]any,
	send func() (domain.TxReceipt, error),
) (domain.TxReceipt, error) {
	receipt, err := send()
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionTimeout) {
			s.logger.WarnContext(ctx, "resolution submission outcome unknown",
				slog.String("action", string(action)),
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		return domain.TxReceipt{}, fmt.Errorf("service: %s market %d: %w", action, marketID, err)
	}

	s.logger.InfoContext(ctx, "resolution submitted",
		slog.String("action", string(action)),
		slog.Uint64("market_id", marketID),
		slog.String("tx", receipt.TxHash.Hex()),
	)

	if s.deps.Audit != nil {
		if detail == nil {
			detail = map[string]any{}
		}
		detail["market_id"] = marketID
		detail["tx_hash"] = receipt.TxHash.Hex()
		if err := s.deps.Audit.Log(ctx, "resolution_"+string(action), detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	rec, err := s.deps.Ledger.GetResolution(ctx, marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "refresh resolution failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return receipt, nil
	}
	if rec != nil {
		s.persist(ctx, *rec)
		s.Announce(ctx, action, *rec, receipt.TxHash)
	}
	return receipt, nil
}

func (s *ResolutionService) persist(ctx context.Context, rec domain.Resolution) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Upsert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "persist resolution failed",
			slog.Uint64("market_id", rec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// ResolutionEvent is the bus payload for a resolution change.
type ResolutionEvent struct {
	Event           string `json:"event"`
	Action          string `json:"action,omitempty"`
	MarketID        uint64 `json:"market_id"`
	State           string `json:"state"`
	ProposedOutcome uint8  `json:"proposed_outcome"`
	FinalOutcome    uint8  `json:"final_outcome"`
	TxHash          string `json:"tx_hash,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// Announce publishes rec on the resolutions channel and sends an alert.
// Both are best-effort.
func (s *ResolutionService) Announce(ctx context.Context, action resolution.Action, rec domain.Resolution, tx common.Hash) {
	ev := ResolutionEvent{
		Event:           "resolution_" + rec.State.String(),
		Action:          string(action),
		MarketID:        rec.MarketID,
		State:           rec.State.String(),
		ProposedOutcome: rec.ProposedOutcome,
		FinalOutcome:    rec.FinalOutcome,
		Timestamp:       s.now().UTC().Format(time.RFC3339),
	}
	if tx != (common.Hash{}) {
		ev.TxHash = tx.Hex()
	}

	if s.deps.Bus != nil {
		payload, _ := json.Marshal(ev)
		if err := s.deps.Bus.Publish(ctx, domain.ChannelResolutions, payload); err != nil {
			s.logger.WarnContext(ctx, "publish resolution event failed", slog.String("error", err.Error()))
		}
		if err := s.deps.Bus.StreamAppend(ctx, domain.ChannelResolutions, payload); err != nil {
			s.logger.WarnContext(ctx, "record resolution event failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Alerts != nil {
		title := fmt.Sprintf("Market %d %s", rec.MarketID, rec.State)
		msg := fmt.Sprintf("proposed outcome %d", rec.ProposedOutcome)
		if rec.State == domain.ResolutionFinalized {
			msg = fmt.Sprintf("final outcome %d", rec.FinalOutcome)
		}
		if ev.TxHash != "" {
			msg += ", tx " + ev.TxHash
		}
		if err := s.deps.Alerts.Notify(ctx, domain.EventResolution, title, msg); err != nil {
			s.logger.WarnContext(ctx, "resolution alert failed", slog.String("error", err.Error()))
		}
	}
}
