// Package resolution mirrors the oracle's propose -> dispute -> finalize
// lifecycle. Its guards are advisory pre-checks run before a submission;
// the ledger remains the authority and re-validates every transition.
package resolution

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// Params are the protocol parameters the guards depend on.
type Params struct {
	MinBond       *big.Int
	DisputeWindow time.Duration
	Arbitrator    common.Address
}

// Machine evaluates guards and applies transitions to local mirrors of
// resolution records. It holds no state of its own.
type Machine struct {
	params Params
}

// New creates a Machine for the given parameters.
func New(p Params) *Machine {
	if p.MinBond == nil {
		p.MinBond = new(big.Int)
	}
	return &Machine{params: p}
}

// Params returns the machine's protocol parameters.
func (m *Machine) Params() Params { return m.params }

// WindowEnd is the instant the dispute window of rec closes.
func (m *Machine) WindowEnd(rec *domain.Resolution) time.Time {
	return rec.ProposalTime.Add(m.params.DisputeWindow)
}

// CheckPropose validates a proposal against the current record. A nil rec
// means no resolution exists yet.
func (m *Machine) CheckPropose(rec *domain.Resolution, market domain.Market, in domain.ProposeIntent, now time.Time) error {
	if s := stateOf(rec); s != domain.ResolutionNone {
		return wrongState("propose", in.MarketID, s)
	}
	if int(in.OutcomeID) >= market.OutcomeCount {
		return fmt.Errorf("resolution: propose market %d: %w: outcome %d of %d",
			in.MarketID, domain.ErrInvalidOutcome, in.OutcomeID, market.OutcomeCount)
	}
	if err := m.checkBond("propose", in.MarketID, in.Bond); err != nil {
		return err
	}
	if !market.Closed(now) {
		return fmt.Errorf("resolution: propose market %d: %w: market closes at %s",
			in.MarketID, domain.ErrNotYetEligible, market.CloseTime.UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckDispute validates a dispute. It must land strictly before the window
// closes.
func (m *Machine) CheckDispute(rec *domain.Resolution, in domain.DisputeIntent, now time.Time) error {
	if s := stateOf(rec); s != domain.ResolutionProposed {
		return wrongState("dispute", in.MarketID, s)
	}
	if !now.Before(m.WindowEnd(rec)) {
		return fmt.Errorf("resolution: dispute market %d: %w: window closed at %s",
			in.MarketID, domain.ErrWindowExpired, m.WindowEnd(rec).UTC().Format(time.RFC3339))
	}
	return m.checkBond("dispute", in.MarketID, in.Bond)
}

// CheckFinalize validates an undisputed finalization.
func (m *Machine) CheckFinalize(rec *domain.Resolution, now time.Time) error {
	if s := stateOf(rec); s != domain.ResolutionProposed {
		return wrongState("finalize", marketOf(rec), s)
	}
	if now.Before(m.WindowEnd(rec)) {
		return fmt.Errorf("resolution: finalize market %d: %w: dispute window open until %s",
			rec.MarketID, domain.ErrNotYetEligible, m.WindowEnd(rec).UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckFinalizeDisputed validates the arbitrator's ruling on a dispute.
func (m *Machine) CheckFinalizeDisputed(rec *domain.Resolution, market domain.Market, caller common.Address, outcome uint8) error {
	if s := stateOf(rec); s != domain.ResolutionDisputed {
		return wrongState("finalize disputed", marketOf(rec), s)
	}
	if caller != m.params.Arbitrator {
		return fmt.Errorf("resolution: finalize disputed market %d: %w: %s", rec.MarketID, domain.ErrNotArbitrator, caller.Hex())
	}
	if int(outcome) >= market.OutcomeCount {
		return fmt.Errorf("resolution: finalize disputed market %d: %w: outcome %d of %d",
			rec.MarketID, domain.ErrInvalidOutcome, outcome, market.OutcomeCount)
	}
	return nil
}

// Propose applies a proposal to a copy of rec and returns it.
func (m *Machine) Propose(rec *domain.Resolution, market domain.Market, proposer common.Address, in domain.ProposeIntent, now time.Time) (domain.Resolution, error) {
	if err := m.CheckPropose(rec, market, in, now); err != nil {
		return domain.Resolution{}, err
	}
	return domain.Resolution{
		MarketID:        in.MarketID,
		State:           domain.ResolutionProposed,
		ProposedOutcome: in.OutcomeID,
		ProposalTime:    now,
		Proposer:        proposer,
		ProposerBond:    new(big.Int).Set(in.Bond),
		EvidenceURI:     in.EvidenceURI,
	}, nil
}

// Dispute applies a dispute to a copy of rec and returns it.
func (m *Machine) Dispute(rec *domain.Resolution, disputer common.Address, in domain.DisputeIntent, now time.Time) (domain.Resolution, error) {
	if err := m.CheckDispute(rec, in, now); err != nil {
		return domain.Resolution{}, err
	}
	next := *rec
	next.State = domain.ResolutionDisputed
	next.Disputer = disputer
	next.DisputerBond = new(big.Int).Set(in.Bond)
	next.DisputeReason = in.Reason
	return next, nil
}

// Finalize settles an undisputed proposal on its proposed outcome.
func (m *Machine) Finalize(rec *domain.Resolution, now time.Time) (domain.Resolution, error) {
	if err := m.CheckFinalize(rec, now); err != nil {
		return domain.Resolution{}, err
	}
	next := *rec
	next.State = domain.ResolutionFinalized
	next.FinalOutcome = rec.ProposedOutcome
	next.FinalizedAt = now
	return next, nil
}

// FinalizeDisputed records the arbitrator's outcome, which need not match
// the original proposal.
func (m *Machine) FinalizeDisputed(rec *domain.Resolution, market domain.Market, caller common.Address, outcome uint8, now time.Time) (domain.Resolution, error) {
	if err := m.CheckFinalizeDisputed(rec, market, caller, outcome); err != nil {
		return domain.Resolution{}, err
	}
	next := *rec
	next.State = domain.ResolutionFinalized
	next.FinalOutcome = outcome
	next.FinalizedAt = now
	return next, nil
}

func (m *Machine) checkBond(op string, marketID uint64, bond *big.Int) error {
	if bond == nil || bond.Cmp(m.params.MinBond) < 0 {
		return fmt.Errorf("resolution: %s market %d: %w: bond %s, minimum %s",
			op, marketID, domain.ErrBondTooLow, bondString(bond), m.params.MinBond)
	}
	return nil
}

func wrongState(op string, marketID uint64, s domain.ResolutionState) error {
	return fmt.Errorf("resolution: %s market %d in state %s: %w: %w",
		op, marketID, s, domain.ErrInvalidStateTransition, domain.ErrWrongState)
}

func stateOf(rec *domain.Resolution) domain.ResolutionState {
	if rec == nil {
		return domain.ResolutionNone
	}
	return rec.State
}

func marketOf(rec *domain.Resolution) uint64 {
	if rec == nil {
		return 0
	}
	return rec.MarketID
}

func bondString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
