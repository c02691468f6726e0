// Package fixedpoint converts between human decimal values and the
// exchange's fixed-precision integer representation. The engine works in
// x18 (values scaled by 10^18) regardless of a product's display precision.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// X18 is the exponent of the exchange's internal representation.
const X18 int32 = 18

// PrecisionError reports a decimal that carries more fractional digits than
// the target exponent can represent. Conversion never rounds silently:
// rounding would misrepresent the caller's intent.
type PrecisionError struct {
	Value    decimal.Decimal
	Exponent int32
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("fixedpoint: %s exceeds precision 10^-%d", e.Value.String(), e.Exponent)
}

// ToFixed converts d into an integer scaled by 10^exponent.
// Exact for inputs with at most `exponent` fractional digits; returns
// *PrecisionError otherwise. Sign is preserved.
func ToFixed(d decimal.Decimal, exponent int32) (*big.Int, error) {
	shifted := d.Shift(exponent)
	if !shifted.IsInteger() {
		return nil, &PrecisionError{Value: d, Exponent: exponent}
	}
	return shifted.BigInt(), nil
}

// FromFixed is the inverse of ToFixed. Always exact.
func FromFixed(v *big.Int, exponent int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -exponent)
}

// ToX18 converts d into the engine's x18 representation.
func ToX18(d decimal.Decimal) (*big.Int, error) {
	return ToFixed(d, X18)
}

// FromX18 converts an x18 integer back into a decimal.
func FromX18(v *big.Int) decimal.Decimal {
	return FromFixed(v, X18)
}
