package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/ledger/ledgertest"
)

var lp = common.HexToAddress("0x1f")

func lpLedger() *ledgertest.Fake {
	l := ledgertest.New()
	l.Reserves[1] = domain.Reserves{MarketID: 1, Amounts: []*big.Int{big.NewInt(400), big.NewInt(100)}}
	l.LPBalances[lp] = big.NewInt(50)
	return l
}

func TestLiquidityService_LedgerSupply(t *testing.T) {
	l := lpLedger()
	l.LPSupply[1] = big.NewInt(250)
	svc := NewLiquidityService(l, discard())

	pos, err := svc.Position(context.Background(), 1, lp)
	require.NoError(t, err)
	assert.False(t, pos.SupplyApproximate)
	assert.Equal(t, int64(250), pos.TotalSupply.Int64())
	assert.InDelta(t, 20.0, pos.SharePercent, 1e-9)
	assert.Equal(t, int64(100), pos.Value.Int64())
}

func TestLiquidityService_FallsBackToEstimate(t *testing.T) {
	l := lpLedger()
	l.ErrSupply = errors.New("method not found")

	pos, err := NewLiquidityService(l, discard()).Position(context.Background(), 1, lp)
	require.NoError(t, err)
	assert.True(t, pos.SupplyApproximate)
	assert.Equal(t, int64(200), pos.TotalSupply.Int64(), "sqrt(400*100)")
	assert.InDelta(t, 25.0, pos.SharePercent, 1e-9)
	assert.Equal(t, int64(125), pos.Value.Int64())
}

func TestLiquidityService_ZeroSupplyIsZeroShare(t *testing.T) {
	l := lpLedger()
	l.LPSupply[1] = big.NewInt(0)

	pos, err := NewLiquidityService(l, discard()).Position(context.Background(), 1, lp)
	require.NoError(t, err)
	assert.False(t, pos.SupplyApproximate)
	assert.Zero(t, pos.TotalSupply.Sign())
	assert.Equal(t, 0.0, pos.SharePercent)
	assert.Zero(t, pos.Value.Sign())
}

func TestLiquidityService_NoEstimateForMultiOutcome(t *testing.T) {
	l := lpLedger()
	l.Reserves[1] = domain.Reserves{MarketID: 1, Amounts: []*big.Int{big.NewInt(400), big.NewInt(100), big.NewInt(900)}}
	l.ErrSupply = errors.New("method not found")

	_, err := NewLiquidityService(l, discard()).Position(context.Background(), 1, lp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")

	l.ErrSupply = nil
	l.LPSupply[1] = big.NewInt(100)
	pos, err := NewLiquidityService(l, discard()).Position(context.Background(), 1, lp)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pos.SharePercent, 1e-9)
	assert.Equal(t, int64(700), pos.Value.Int64())
}

func TestLiquidityService_ReservesError(t *testing.T) {
	l := lpLedger()
	l.ErrReserves = &domain.LedgerError{Target: "pool", Op: "getReserves", Reason: "timeout"}
	_, err := NewLiquidityService(l, discard()).Position(context.Background(), 1, lp)
	assert.ErrorIs(t, err, domain.ErrLedger)
}
