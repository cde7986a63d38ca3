package amm

import (
	"math/big"
)

// LPShare returns lpBalance's share of totalSupply as a percentage with two
// implied decimals: (lpBalance * 10000 / totalSupply) / 100. It is 0 when
// the supply is zero and capped at 100 when the balance exceeds the supply.
func LPShare(lpBalance, totalSupply *big.Int) float64 {
	if empty(totalSupply) || lpBalance == nil {
		return 0
	}
	bps := new(big.Int).Mul(capped(lpBalance, totalSupply), big.NewInt(10_000))
	bps.Quo(bps, totalSupply)
	return float64(bps.Int64()) / 100
}

// LPValue returns lpBalance * (yes + no) / totalSupply, 0 for zero supply.
// The balance is capped at the supply.
func LPValue(lpBalance, totalSupply, yes, no *big.Int) *big.Int {
	if empty(totalSupply) || lpBalance == nil {
		return new(big.Int)
	}
	v := new(big.Int).Add(orZero(yes), orZero(no))
	v.Mul(v, capped(lpBalance, totalSupply))
	return v.Quo(v, totalSupply)
}

// EstimateLPSupply approximates the LP token supply as the integer geometric
// mean of the reserves. The ledger's own accounting can diverge from this,
// so the result is for display only and must not feed any settlement math.
func EstimateLPSupply(yes, no *big.Int) *big.Int {
	if empty(yes) || empty(no) {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(new(big.Int).Mul(yes, no))
}

func capped(balance, supply *big.Int) *big.Int {
	if balance.Sign() < 0 {
		return new(big.Int)
	}
	if balance.Cmp(supply) > 0 {
		return supply
	}
	return balance
}
