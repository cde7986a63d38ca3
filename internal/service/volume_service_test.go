package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/ledger/ledgertest"
)

func TestFoldVolume(t *testing.T) {
	events := []domain.TradeEvent{
		{MarketID: 1, Direction: domain.DirectionSell, AmountIn: big.NewInt(50), AmountOut: big.NewInt(40), Fee: big.NewInt(1), BlockNumber: 12, LogIndex: 0},
		{MarketID: 1, Direction: domain.DirectionBuy, AmountIn: big.NewInt(100), AmountOut: big.NewInt(180), Fee: big.NewInt(2), BlockNumber: 10, LogIndex: 3},
		{MarketID: 2, Direction: domain.DirectionBuy, AmountIn: big.NewInt(999), Fee: big.NewInt(9), BlockNumber: 11},
		{MarketID: 1, Direction: domain.DirectionBuy, AmountIn: big.NewInt(10), AmountOut: big.NewInt(11), BlockNumber: 10, LogIndex: 1},
	}

	r := FoldVolume(1, events)
	assert.Equal(t, int64(150), r.Volume.Int64(), "buys count input, sells count output")
	assert.Equal(t, int64(3), r.Fees.Int64())
	assert.Equal(t, 3, r.TradeCount)
	assert.Equal(t, uint64(12), r.LastBlock)
	assert.False(t, r.Approximate)

	assert.Equal(t, uint64(12), events[0].BlockNumber, "input is not reordered")
}

func TestFoldVolume_Empty(t *testing.T) {
	r := FoldVolume(5, nil)
	assert.Equal(t, uint64(5), r.MarketID)
	assert.Equal(t, 0, r.Volume.Sign())
	assert.Equal(t, 0, r.TradeCount)
}

func TestVolumeService(t *testing.T) {
	l := ledgertest.New()
	l.Events = []domain.TradeEvent{
		{MarketID: 1, Direction: domain.DirectionBuy, AmountIn: big.NewInt(7), BlockNumber: 3},
		{MarketID: 1, Direction: domain.DirectionBuy, AmountIn: big.NewInt(5), BlockNumber: 9},
	}
	svc := NewVolumeService(l, discard())

	r := svc.Volume(context.Background(), 1, 5)
	assert.Equal(t, int64(5), r.Volume.Int64())
	assert.Equal(t, 1, r.TradeCount)
}

func TestVolumeService_DegradesWhenSourceFails(t *testing.T) {
	l := ledgertest.New()
	l.ErrEvents = errors.New("log index unavailable")
	svc := NewVolumeService(l, discard())

	r := svc.Volume(context.Background(), 1, 0)
	assert.True(t, r.Approximate)
	assert.Equal(t, 0, r.Volume.Sign())
	assert.Equal(t, 0, r.Fees.Sign())
}
