package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

func TestToDisplay(t *testing.T) {
	tests := []struct {
		name      string
		amount    *big.Int
		decimals  int
		precision int
		want      string
	}{
		{"zero", big.NewInt(0), 18, 4, "0"},
		{"nil", nil, 18, 4, "0"},
		{"whole number pads", wei("1000000000000000000"), 18, 4, "1.0000"},
		{"truncates not rounds", wei("1999999999999999999"), 18, 2, "1.99"},
		{"no precision", wei("2500000000000000000"), 18, 0, "2"},
		{"usdc decimals", big.NewInt(1_234_567), 6, 3, "1.234"},
		{"sub unit", wei("330000000000000000"), 18, 6, "0.330000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToDisplay(tc.amount, tc.decimals, tc.precision))
		})
	}
}

func TestFromDisplay(t *testing.T) {
	valid := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"  1.5 ", "1500000000000000000"},
		{"0.000000000000000001", "1"},
		{".25", "250000000000000000"},
		{"3.", "3000000000000000000"},
	}
	for _, tc := range valid {
		got, err := FromDisplay(tc.in, 18)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}

	invalid := []string{
		"", "   ", "-1", "1,000", "1e18", "1E3", "abc", "1.2.3",
		"0.0000000000000000001",                    // 19 fractional digits
		"340282366920938463463.374607431768211457", // > 2^128 after scaling
	}
	for _, in := range invalid {
		_, err := FromDisplay(in, 18)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "input %q", in)
	}
}

func TestFromDisplayAtCeiling(t *testing.T) {
	// 2^128 itself is accepted, one more unit is not.
	ceiling := new(big.Int).Lsh(big.NewInt(1), 128)
	got, err := FromDisplay(ceiling.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, ceiling, got)

	_, err = FromDisplay(new(big.Int).Add(ceiling, big.NewInt(1)).String(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestApplySlippageTolerance(t *testing.T) {
	amount := wei("333333333333333333")

	got, err := ApplySlippageTolerance(amount, 100)
	require.NoError(t, err)
	assert.Equal(t, "329999999999999999", got.String())

	got, err = ApplySlippageTolerance(amount, 0)
	require.NoError(t, err)
	assert.Equal(t, amount.String(), got.String())

	got, err = ApplySlippageTolerance(amount, 10_000)
	require.NoError(t, err)
	assert.Zero(t, got.Sign())

	_, err = ApplySlippageTolerance(amount, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidSlippage)
	_, err = ApplySlippageTolerance(amount, 10_001)
	assert.ErrorIs(t, err, domain.ErrInvalidSlippage)
}

func TestApplySlippageToleranceMonotonic(t *testing.T) {
	amounts := []*big.Int{big.NewInt(1), big.NewInt(9_999), wei("123456789012345678901234")}
	for _, amount := range amounts {
		prev, err := ApplySlippageTolerance(amount, 0)
		require.NoError(t, err)
		for bps := int64(1); bps <= BpsDenominator; bps += 37 {
			cur, err := ApplySlippageTolerance(amount, bps)
			require.NoError(t, err)
			assert.True(t, prev.Cmp(cur) >= 0, "amount %s bps %d", amount, bps)
			prev = cur
		}
	}
}

func TestPercentageOf(t *testing.T) {
	assert.Equal(t, 0.0, PercentageOf(big.NewInt(5), big.NewInt(0)))
	assert.Equal(t, 10.0, PercentageOf(big.NewInt(90), big.NewInt(100)))
	assert.Equal(t, -25.0, PercentageOf(big.NewInt(125), big.NewInt(100)))
	assert.Equal(t, 0.0, PercentageOf(big.NewInt(100), big.NewInt(100)))
}

func TestBpsConversions(t *testing.T) {
	assert.True(t, BpsToPercent(150).Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(250), PercentToBps(decimal.RequireFromString("2.5")))
	assert.Equal(t, "30", MulBps(big.NewInt(1_000), 300).String())
}
