// Package fixedpoint holds the integer fixed-point helpers shared by the
// pricing engines: display formatting and parsing, basis-point conversions
// and slippage bounds. All arithmetic is done on math/big integers so no
// intermediate product can overflow.
package fixedpoint

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

const (
	// Decimals is the number of fractional digits of ledger amounts.
	Decimals = 18
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10_000
)

var (
	// WAD is 10^18, the fixed-point unit.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// maxParsed is the sanity ceiling for parsed amounts (2^128).
	maxParsed = new(big.Int).Lsh(big.NewInt(1), 128)

	bpsDenom = big.NewInt(BpsDenominator)

	plainDecimal = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)
)

// ToDisplay renders amount (with the given number of fractional digits) as a
// decimal string truncated to precision fractional digits. Zero renders as
// "0"; otherwise the fractional part is zero-padded to precision.
func ToDisplay(amount *big.Int, decimals, precision int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	if precision < 0 {
		precision = 0
	}
	d := decimal.NewFromBigInt(amount, -int32(decimals))
	return d.Truncate(int32(precision)).StringFixed(int32(precision))
}

// FromDisplay parses a plain, non-negative decimal string into its fixed-point
// integer form. Signs, digit-group separators, exponents, more fractional
// digits than decimals and results above 2^128 are all rejected with
// domain.ErrInvalidAmount.
func FromDisplay(text string, decimals int) (*big.Int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("fixedpoint: %w: empty input", domain.ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("fixedpoint: %w: negative amount %q", domain.ErrInvalidAmount, text)
	}
	if !plainDecimal.MatchString(s) {
		return nil, fmt.Errorf("fixedpoint: %w: not a plain decimal %q", domain.ErrInvalidAmount, text)
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > decimals {
		return nil, fmt.Errorf("fixedpoint: %w: more than %d fractional digits in %q", domain.ErrInvalidAmount, decimals, text)
	}

	s = strings.TrimSuffix(s, ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: %w: %v", domain.ErrInvalidAmount, err)
	}
	out := d.Shift(int32(decimals)).BigInt()
	if out.Cmp(maxParsed) > 0 {
		return nil, fmt.Errorf("fixedpoint: %w: %q exceeds 2^128", domain.ErrInvalidAmount, text)
	}
	return out, nil
}

// ApplySlippageTolerance returns floor(amount * (10000 - bps) / 10000).
func ApplySlippageTolerance(amount *big.Int, toleranceBps int64) (*big.Int, error) {
	if toleranceBps < 0 || toleranceBps > BpsDenominator {
		return nil, fmt.Errorf("fixedpoint: %w: got %d", domain.ErrInvalidSlippage, toleranceBps)
	}
	if amount == nil {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(amount, big.NewInt(BpsDenominator-toleranceBps))
	return out.Quo(out, bpsDenom), nil
}

// PercentageOf returns (expected - actual) / expected * 100. It is 0 when
// expected is zero and negative when actual exceeds expected.
func PercentageOf(actual, expected *big.Int) float64 {
	if expected == nil || expected.Sign() == 0 {
		return 0
	}
	a := decimal.NewFromBigInt(orZero(actual), 0)
	e := decimal.NewFromBigInt(expected, 0)
	pct, _ := e.Sub(a).Mul(decimal.NewFromInt(100)).DivRound(e, 8).Float64()
	return pct
}

// MulBps returns floor(amount * bps / 10000).
func MulBps(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(orZero(amount), big.NewInt(bps))
	return out.Quo(out, bpsDenom)
}

// BpsToPercent converts basis points to a percentage (150 -> 1.5).
func BpsToPercent(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(100))
}

// PercentToBps converts a percentage to basis points, truncating toward zero.
func PercentToBps(pct decimal.Decimal) int64 {
	return pct.Mul(decimal.NewFromInt(100)).Truncate(0).IntPart()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
