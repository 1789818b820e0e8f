// Package quant holds decimal helpers used at the float64 boundary: exact
// rounding of prices and quantities to venue precision, and canonical
// decimal rendering.
package quant

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// RoundDown truncates v toward negative infinity at the given number of decimals.
// Used for buy prices and order quantities so a rounded value never exceeds
// the intended one.
func RoundDown(v float64, decimals int32) float64 {
	return decimal.NewFromFloat(v).RoundFloor(decimals).InexactFloat64()
}

// RoundUp rounds v toward positive infinity at the given number of decimals.
// Used for sell prices.
func RoundUp(v float64, decimals int32) float64 {
	return decimal.NewFromFloat(v).RoundCeil(decimals).InexactFloat64()
}

// DecimalString renders v with the shortest decimal representation that
// round-trips, without exponent notation.
func DecimalString(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// ParseDecimal parses a numeric string from the wire into float64 through an
// exact decimal, rejecting malformed input.
func ParseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}
