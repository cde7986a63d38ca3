package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus is mirrored from the ledger and never computed locally.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusInvalid  MarketStatus = "invalid"
)

const (
	// BinaryOutcomes is the outcome count of a constant-product market.
	BinaryOutcomes = 2
	// MinMultiOutcomes and MaxMultiOutcomes bound LMSR markets.
	MinMultiOutcomes = 3
	MaxMultiOutcomes = 8
)

// Market is a prediction market as reported by the factory contract.
type Market struct {
	ID              uint64
	OutcomeCount    int
	CollateralToken common.Address
	CloseTime       time.Time
	Status          MarketStatus
	MetadataRef     string // content-addressed reference to MarketMetadata
}

// Closed reports whether now is at or past the market's close time.
func (m Market) Closed(now time.Time) bool {
	return !now.Before(m.CloseTime)
}

// Reserves holds per-outcome pool reserves (18 fractional digits).
type Reserves struct {
	MarketID uint64
	Amounts  []*big.Int
}

// Binary returns the (yes, no) pair. Missing entries read as zero.
func (r Reserves) Binary() (yes, no *big.Int) {
	yes, no = new(big.Int), new(big.Int)
	if len(r.Amounts) > 0 && r.Amounts[0] != nil {
		yes.Set(r.Amounts[0])
	}
	if len(r.Amounts) > 1 && r.Amounts[1] != nil {
		no.Set(r.Amounts[1])
	}
	return yes, no
}

// Total sums every reserve.
func (r Reserves) Total() *big.Int {
	total := new(big.Int)
	for _, a := range r.Amounts {
		if a != nil {
			total.Add(total, a)
		}
	}
	return total
}

// HasLiquidity reports whether the total reserve is positive.
func (r Reserves) HasLiquidity() bool {
	return r.Total().Sign() > 0
}

// LPPosition describes a liquidity provider's stake in a market pool.
type LPPosition struct {
	MarketID     uint64
	Owner        common.Address
	LPTokens     *big.Int
	TotalSupply  *big.Int
	SharePercent float64
	Value        *big.Int
	// SupplyApproximate is set when TotalSupply is a reserve-derived
	// estimate rather than the ledger's own figure. Display only.
	SupplyApproximate bool
}

// FeeTier is one step of the stake-weighted fee schedule.
type FeeTier struct {
	MinBalance  *big.Int
	FeeBps      int64
	ProtocolBps int64
}

// MarketMetadata is the content-addressed description of a market.
type MarketMetadata struct {
	Question    string    `json:"question"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
	Creator     string    `json:"creator,omitempty"`
}
