package amm

import (
	"math/big"
	"sort"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// EffectiveTier returns the highest tier whose MinBalance is met by balance.
// Tiers may arrive in any order. With no qualifying tier the first listed
// tier applies; an empty schedule yields a zero-fee tier.
func EffectiveTier(tiers []domain.FeeTier, balance *big.Int) domain.FeeTier {
	if len(tiers) == 0 {
		return domain.FeeTier{MinBalance: new(big.Int)}
	}
	if balance == nil {
		balance = new(big.Int)
	}

	sorted := make([]domain.FeeTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orZero(sorted[i].MinBalance).Cmp(orZero(sorted[j].MinBalance)) < 0
	})

	chosen := tiers[0]
	for _, t := range sorted {
		if orZero(t.MinBalance).Cmp(balance) <= 0 {
			chosen = t
		}
	}
	return chosen
}
