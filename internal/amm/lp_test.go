package amm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

func TestLPShare(t *testing.T) {
	assert.Equal(t, 25.0, LPShare(big.NewInt(250), big.NewInt(1000)))
	assert.Equal(t, 33.33, LPShare(big.NewInt(1), big.NewInt(3)))
	assert.Equal(t, 100.0, LPShare(big.NewInt(5), big.NewInt(5)))
	assert.Equal(t, 0.0, LPShare(big.NewInt(5), big.NewInt(0)))
	assert.Equal(t, 0.0, LPShare(nil, big.NewInt(10)))
	assert.Equal(t, 100.0, LPShare(big.NewInt(9), big.NewInt(5)))
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	assert.Equal(t, 100.0, LPShare(huge, big.NewInt(1)))
	assert.Equal(t, 0.0, LPShare(big.NewInt(-3), big.NewInt(5)))
}

func TestLPValue(t *testing.T) {
	v := LPValue(big.NewInt(1), big.NewInt(4), e18(3), e18(1))
	assert.Equal(t, e18(1).String(), v.String())
	assert.Zero(t, LPValue(big.NewInt(1), big.NewInt(0), e18(3), e18(1)).Sign())
	assert.Equal(t, e18(4).String(), LPValue(big.NewInt(8), big.NewInt(4), e18(3), e18(1)).String())
}

func TestEstimateLPSupply(t *testing.T) {
	assert.Equal(t, e18(2).String(), EstimateLPSupply(e18(4), e18(1)).String())
	assert.Zero(t, EstimateLPSupply(big.NewInt(0), e18(1)).Sign())
}

func TestEffectiveTier(t *testing.T) {
	tiers := []domain.FeeTier{
		{MinBalance: big.NewInt(0), FeeBps: 100},
		{MinBalance: e18(1000), FeeBps: 50},
		{MinBalance: e18(100), FeeBps: 75},
	}
	tests := []struct {
		balance *big.Int
		want    int64
	}{
		{nil, 100},
		{big.NewInt(0), 100},
		{e18(99), 100},
		{e18(100), 75},
		{e18(999), 75},
		{e18(1000), 50},
		{e18(5000), 50},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, EffectiveTier(tiers, tc.balance).FeeBps, "balance %v", tc.balance)
	}

	assert.Equal(t, int64(0), EffectiveTier(nil, e18(1)).FeeBps)

	// a schedule with no zero-balance tier falls back to the first entry
	gated := []domain.FeeTier{{MinBalance: e18(10), FeeBps: 30}, {MinBalance: e18(20), FeeBps: 20}}
	assert.Equal(t, int64(30), EffectiveTier(gated, big.NewInt(0)).FeeBps)
}
