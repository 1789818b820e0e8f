package quant

import (
	"math"
	"testing"
)

// FuzzRoundDown checks rounding never increases a value.
func FuzzRoundDown(f *testing.F) {
	f.Add(0.0, int32(2))
	f.Add(1.23, int32(2))
	f.Add(1699.999, int32(4))
	f.Add(0.00000001, int32(8))

	f.Fuzz(func(t *testing.T, val float64, decimals int32) {
		if math.IsNaN(val) || math.IsInf(val, 0) || math.Abs(val) > 1e12 || decimals < 0 || decimals > 8 {
			return
		}
		if got := RoundDown(val, decimals); got > val {
			t.Errorf("RoundDown(%v, %d) = %v exceeds input", val, decimals, got)
		}
	})
}

// FuzzParseDecimal should return an error, never panic, on bad input.
func FuzzParseDecimal(f *testing.F) {
	f.Add("0")
	f.Add("1699.9")
	f.Add("-1")
	f.Add("1e400")

	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseDecimal(s)
	})
}
