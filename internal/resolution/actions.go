package resolution

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// Action is one resolution operation.
type Action string

const (
	ActionPropose          Action = "propose"
	ActionDispute          Action = "dispute"
	ActionFinalize         Action = "finalize"
	ActionFinalizeDisputed Action = "finalize_disputed"
)

// ActionStatus says whether an action is currently legal and, if not, why.
type ActionStatus struct {
	Action  Action
	Allowed bool
	Reason  error
}

// AllowedActions evaluates every action for caller at now. Bond checks
// assume the caller posts exactly the minimum bond.
func (m *Machine) AllowedActions(rec *domain.Resolution, market domain.Market, caller common.Address, now time.Time) []ActionStatus {
	minBond := new(big.Int).Set(m.params.MinBond)
	marketID := market.ID

	propose := m.CheckPropose(rec, market, domain.ProposeIntent{MarketID: marketID, Bond: minBond}, now)
	dispute := m.CheckDispute(rec, domain.DisputeIntent{MarketID: marketID, Bond: minBond}, now)
	finalize := m.CheckFinalize(rec, now)
	var outcome uint8
	if rec != nil {
		outcome = rec.ProposedOutcome
	}
	disputed := m.CheckFinalizeDisputed(rec, market, caller, outcome)

	return []ActionStatus{
		status(ActionPropose, propose),
		status(ActionDispute, dispute),
		status(ActionFinalize, finalize),
		status(ActionFinalizeDisputed, disputed),
	}
}

// Next returns only the actions that are currently allowed.
func Next(statuses []ActionStatus) []Action {
	var out []Action
	for _, s := range statuses {
		if s.Allowed {
			out = append(out, s.Action)
		}
	}
	return out
}

// ReasonCode maps a guard error to a short machine-readable code.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrWrongState):
		return "wrong_state"
	case errors.Is(err, domain.ErrBondTooLow):
		return "bond_too_low"
	case errors.Is(err, domain.ErrWindowExpired):
		return "window_expired"
	case errors.Is(err, domain.ErrNotYetEligible):
		return "not_yet_eligible"
	case errors.Is(err, domain.ErrNotArbitrator):
		return "not_arbitrator"
	case errors.Is(err, domain.ErrInvalidOutcome):
		return "invalid_outcome"
	default:
		return "rejected"
	}
}

func status(a Action, err error) ActionStatus {
	return ActionStatus{Action: a, Allowed: err == nil, Reason: err}
}
