package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side of a trade from the trader's point of view.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// TradeQuote is an ephemeral price quote. AmountOut is outcome tokens for a
// buy and collateral for a sell; Fee is reported separately and has already
// been deducted from the input before AmountOut was computed.
type TradeQuote struct {
	MarketID           uint64
	OutcomeID          uint8
	Direction          Direction
	AmountIn           *big.Int
	AmountOut          *big.Int
	Fee                *big.Int
	FeeBps             int64
	PriceImpactPercent float64
	Strategy           string
}

// TradeOrder is what gets submitted to the ledger.
type TradeOrder struct {
	MarketID     uint64
	OutcomeID    uint8
	Direction    Direction
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// TxReceipt is the ledger's confirmation of a submitted transaction.
type TxReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// TradeReceipt is a confirmed trade with the ledger-reported output.
type TradeReceipt struct {
	TxReceipt
	AmountOut *big.Int
}

// TradeExecution reconciles a confirmed trade against its quote.
type TradeExecution struct {
	ID               string
	Trader           common.Address
	Quote            TradeQuote
	MinAmountOut     *big.Int
	Receipt          TradeReceipt
	DeviationPercent float64
	DeviationFlagged bool
	ExecutedAt       time.Time
}

// TradeEvent is a historical trade read back from the ledger's event log.
type TradeEvent struct {
	MarketID    uint64
	Trader      common.Address
	OutcomeID   uint8
	Direction   Direction
	AmountIn    *big.Int
	AmountOut   *big.Int
	Fee         *big.Int
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// VolumeReport is a best-effort aggregate folded from trade events.
type VolumeReport struct {
	MarketID    uint64
	Volume      *big.Int
	Fees        *big.Int
	TradeCount  int
	LastBlock   uint64
	Approximate bool
}
