package lmsr

import (
	"fmt"
	"math/big"
)

// outcomeBits is the width reserved for the outcome index in a token id.
const outcomeBits = 8

var outcomeMask = big.NewInt(0xFF)

// EncodeTokenID packs a market and outcome the way the ledger's ERC-1155
// positions do: (marketID << 8) | outcomeID.
func EncodeTokenID(marketID uint64, outcomeID uint8) *big.Int {
	id := new(big.Int).SetUint64(marketID)
	id.Lsh(id, outcomeBits)
	return id.Or(id, big.NewInt(int64(outcomeID)))
}

// DecodeTokenID reverses EncodeTokenID. Ids whose market part does not fit
// in 64 bits are rejected.
func DecodeTokenID(tokenID *big.Int) (marketID uint64, outcomeID uint8, err error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return 0, 0, fmt.Errorf("lmsr: decode token id: negative or missing id")
	}
	m := new(big.Int).Rsh(tokenID, outcomeBits)
	if !m.IsUint64() {
		return 0, 0, fmt.Errorf("lmsr: decode token id: market part of %s overflows uint64", tokenID)
	}
	o := new(big.Int).And(tokenID, outcomeMask)
	return m.Uint64(), uint8(o.Uint64()), nil
}
