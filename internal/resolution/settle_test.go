package resolution

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

func TestSettleUndisputed(t *testing.T) {
	m := newMachine()
	rec := propose(t, m, closeTime)

	_, ok := Settle(&rec)
	assert.False(t, ok)

	final, err := m.Finalize(&rec, closeTime.Add(window))
	require.NoError(t, err)
	s, ok := Settle(&final)
	require.True(t, ok)
	assert.Equal(t, proposer, s.Winner)
	assert.Equal(t, "100", s.ReturnedToWinner.String())
	assert.Zero(t, s.Forfeited.Sign())
}

func TestSettleDisputed(t *testing.T) {
	m := newMachine()
	rec := propose(t, m, closeTime)
	disputed, err := m.Dispute(&rec, disputer, domain.DisputeIntent{MarketID: 9, Bond: big.NewInt(250)}, closeTime.Add(time.Minute))
	require.NoError(t, err)

	upheld, err := m.FinalizeDisputed(&disputed, testMarket(), arbitrator, 1, closeTime.Add(time.Hour))
	require.NoError(t, err)
	s, ok := Settle(&upheld)
	require.True(t, ok)
	assert.Equal(t, proposer, s.Winner)
	assert.Equal(t, "250", s.Forfeited.String())
	assert.Equal(t, disputer, s.ForfeitedBy)

	overturned, err := m.FinalizeDisputed(&disputed, testMarket(), arbitrator, 0, closeTime.Add(time.Hour))
	require.NoError(t, err)
	s, ok = Settle(&overturned)
	require.True(t, ok)
	assert.Equal(t, disputer, s.Winner)
	assert.Equal(t, "250", s.ReturnedToWinner.String())
	assert.Equal(t, "100", s.Forfeited.String())
	assert.Equal(t, proposer, s.ForfeitedBy)
}
