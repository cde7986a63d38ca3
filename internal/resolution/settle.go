package resolution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// Settle works out where the bonds of a finalized record end up. The
// ledger moves the funds; this is for display. ok is false until the
// record is finalized.
func Settle(rec *domain.Resolution) (s domain.BondSettlement, ok bool) {
	if rec == nil || rec.State != domain.ResolutionFinalized {
		return domain.BondSettlement{}, false
	}
	proposerBond := bondOrZero(rec.ProposerBond)
	disputerBond := bondOrZero(rec.DisputerBond)

	if rec.Disputer == (common.Address{}) {
		return domain.BondSettlement{
			Winner:           rec.Proposer,
			ReturnedToWinner: proposerBond,
			Forfeited:        new(big.Int),
		}, true
	}
	if rec.FinalOutcome == rec.ProposedOutcome {
		return domain.BondSettlement{
			Winner:           rec.Proposer,
			ReturnedToWinner: proposerBond,
			Forfeited:        disputerBond,
			ForfeitedBy:      rec.Disputer,
		}, true
	}
	return domain.BondSettlement{
		Winner:           rec.Disputer,
		ReturnedToWinner: disputerBond,
		Forfeited:        proposerBond,
		ForfeitedBy:      rec.Proposer,
	}, true
}

func bondOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b)
}
