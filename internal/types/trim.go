package types

import (
	"errors"
	"fmt"
	"math/bits"
)

// TrimmingDecimals is the maximum precision an amount keeps while
// crossing chains. Amounts are scaled down to
// min(TrimmingDecimals, local decimals, remote decimals) so that every
// participating chain can represent them without overflow.
const TrimmingDecimals = 8

var (
	// ErrOverflowExponent means a decimal rescale factor exceeds uint64.
	ErrOverflowExponent = errors.New("decimal exponent too large")
	// ErrOverflowScaledAmount means scaling an amount up overflows uint64.
	ErrOverflowScaledAmount = errors.New("scaled amount overflows uint64")
)

// TrimmedAmount is a token amount normalized to a reduced decimal
// precision for cross-chain transport.
type TrimmedAmount struct {
	Amount   uint64 // Amount is the value expressed in Decimals precision
	Decimals uint8  // Decimals is the precision the value is expressed in
}

// pow10Table holds every power of ten representable in a uint64.
var pow10Table = [...]uint64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
	100_000_000, 1_000_000_000, 10_000_000_000, 100_000_000_000,
	1_000_000_000_000, 10_000_000_000_000, 100_000_000_000_000,
	1_000_000_000_000_000, 10_000_000_000_000_000,
	100_000_000_000_000_000, 1_000_000_000_000_000_000,
	10_000_000_000_000_000_000,
}

// pow10 returns 10^p, or ErrOverflowExponent if it exceeds uint64.
func pow10(p uint8) (uint64, error) {
	if int(p) >= len(pow10Table) {
		return 0, fmt.Errorf("10^%d:\n%w", p, ErrOverflowExponent)
	}

	return pow10Table[p], nil
}

// scale re-expresses amount from one decimal precision in another.
// Scaling down truncates toward zero; scaling up errors on overflow.
// Truncation must stay exact integer arithmetic: independently
// executing chains reproduce the same result.
func scale(amount uint64, from, to uint8) (uint64, error) {
	if from == to {
		return amount, nil
	}

	if from > to {
		factor, err := pow10(from - to)
		if err != nil {
			return 0, err
		}

		return amount / factor, nil
	}

	factor, err := pow10(to - from)
	if err != nil {
		return 0, err
	}

	hi, lo := bits.Mul64(amount, factor)
	if hi != 0 {
		return 0, fmt.Errorf("%d at %d decimals to %d:\n%w", amount, from, to, ErrOverflowScaledAmount)
	}

	return lo, nil
}

// Trim scales amount from its local precision down to
// min(TrimmingDecimals, fromDecimals, toDecimals).
func Trim(amount uint64, fromDecimals, toDecimals uint8) (TrimmedAmount, error) {
	to := uint8(TrimmingDecimals)
	if fromDecimals < to {
		to = fromDecimals
	}
	if toDecimals < to {
		to = toDecimals
	}

	trimmed, err := scale(amount, fromDecimals, to)
	if err != nil {
		return TrimmedAmount{}, err
	}

	return TrimmedAmount{Amount: trimmed, Decimals: to}, nil
}

// Untrim re-expresses the amount in toDecimals precision.
func (t TrimmedAmount) Untrim(toDecimals uint8) (uint64, error) {
	return scale(t.Amount, t.Decimals, toDecimals)
}

// IsZero reports whether the amount is zero.
func (t TrimmedAmount) IsZero() bool {
	return t.Amount == 0
}

// RemoveDust splits amount into its transferable part and the dust
// that precision reduction would silently destroy. The returned
// trimmed amount round-trips exactly: trimmed.Untrim(fromDecimals) ==
// amount - dust. Dust never leaves the sender.
func RemoveDust(amount uint64, fromDecimals, toDecimals uint8) (TrimmedAmount, uint64, error) {
	trimmed, err := Trim(amount, fromDecimals, toDecimals)
	if err != nil {
		return TrimmedAmount{}, 0, err
	}

	kept, err := trimmed.Untrim(fromDecimals)
	if err != nil {
		return TrimmedAmount{}, 0, err
	}

	return trimmed, amount - kept, nil
}
