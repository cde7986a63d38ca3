package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ResolutionState only ever moves forward for a given market.
type ResolutionState int

const (
	ResolutionNone ResolutionState = iota
	ResolutionProposed
	ResolutionDisputed
	ResolutionFinalized
)

func (s ResolutionState) String() string {
	switch s {
	case ResolutionNone:
		return "none"
	case ResolutionProposed:
		return "proposed"
	case ResolutionDisputed:
		return "disputed"
	case ResolutionFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Resolution is the per-market resolution record mirrored from the ledger.
type Resolution struct {
	MarketID        uint64
	State           ResolutionState
	ProposedOutcome uint8
	FinalOutcome    uint8
	ProposalTime    time.Time
	Proposer        common.Address
	ProposerBond    *big.Int
	Disputer        common.Address
	DisputerBond    *big.Int
	EvidenceURI     string
	DisputeReason   string
	FinalizedAt     time.Time
}

// ProposedOutcome is the EIP-712 payload signed by the resolution oracle.
type ProposedOutcome struct {
	MarketID     uint64 `json:"marketId"`
	OutcomeID    uint64 `json:"outcomeId"`
	CloseTime    uint64 `json:"closeTime"`
	EvidenceHash []byte `json:"evidenceHash"`
	NotBefore    uint64 `json:"notBefore"`
	Deadline     uint64 `json:"deadline"`
}

// SignedProposal pairs a proposal with its 65-byte r||s||v signature.
type SignedProposal struct {
	Proposal  ProposedOutcome
	Signature []byte
}

// ProposeIntent is a proposal submission.
type ProposeIntent struct {
	MarketID    uint64
	OutcomeID   uint8
	Bond        *big.Int
	EvidenceURI string
	// Signed is set when the proposal carries an oracle signature.
	Signed *SignedProposal
}

// DisputeIntent is a dispute submission.
type DisputeIntent struct {
	MarketID uint64
	Bond     *big.Int
	Reason   string
}

// BondSettlement describes where bonds end up once a record is final.
// It is informational; the ledger moves funds.
type BondSettlement struct {
	Winner           common.Address
	ReturnedToWinner *big.Int
	Forfeited        *big.Int
	ForfeitedBy      common.Address
}
