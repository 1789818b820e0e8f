package domain

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestPnl_RoundTripRealizes(t *testing.T) {
	const tol = 0.001
	p := Pnl{}
	p = p.WithChange(Buy, 0, 1, 1700, tol)
	if p.GrossPnl != 0 || p.NetQty != 1 {
		t.Fatalf("open position should not realize: %v", p)
	}
	p = p.WithChange(Sell, 0.5, 1, 1705, tol)
	if p.GrossPnl != 5 {
		t.Errorf("gross = %g, want 5", p.GrossPnl)
	}
	if p.NetPnl != 4.5 {
		t.Errorf("net = %g, want 4.5", p.NetPnl)
	}
	if p.HighWatermark != 4.5 {
		t.Errorf("hwm = %g, want 4.5", p.HighWatermark)
	}
	if !p.IsFlat(tol) {
		t.Error("expected flat")
	}
}

func TestPnl_HighWatermarkKeepsMax(t *testing.T) {
	const tol = 0.001
	p := Pnl{}.
		WithChange(Buy, 0, 1, 100, tol).
		WithChange(Sell, 0, 1, 110, tol).
		WithChange(Buy, 0, 1, 120, tol).
		WithChange(Sell, 0, 1, 100, tol)
	if p.NetPnl != -10 {
		t.Errorf("net = %g, want -10", p.NetPnl)
	}
	if p.HighWatermark != 10 {
		t.Errorf("hwm = %g, want 10", p.HighWatermark)
	}
}

func TestSumPnls(t *testing.T) {
	a := Pnl{NetPnl: 1, Fees: 0.1, BotQty: 2}
	b := Pnl{NetPnl: -3, Fees: 0.2, SldQty: 1}
	sum := SumPnls(a, b)
	if sum.NetPnl != -2 || math.Abs(sum.Fees-0.3) > 1e-12 || sum.BotQty != 2 || sum.SldQty != 1 {
		t.Errorf("unexpected sum %v", sum)
	}
}

func TestProperty_PnlRealizationOnFlat(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const tol = 0.001
		qty := float64(rapid.IntRange(1, 1000).Draw(t, "qty")) / 100
		buyPx := float64(rapid.IntRange(1, 1_000_000).Draw(t, "buyPx")) / 100
		sellPx := float64(rapid.IntRange(1, 1_000_000).Draw(t, "sellPx")) / 100

		p := Pnl{}.
			WithChange(Buy, 0, qty, qty*buyPx, tol).
			WithChange(Sell, 0, qty, qty*sellPx, tol)

		want := p.SldVal - p.BotVal
		if p.GrossPnl != want {
			t.Fatalf("gross %g != sld-bot %g", p.GrossPnl, want)
		}

		// Further flat-preserving changes with zero quantity leave gross unchanged.
		extra := rapid.IntRange(0, 5).Draw(t, "extra")
		for i := 0; i < extra; i++ {
			side := Buy
			if rapid.Bool().Draw(t, "sell") {
				side = Sell
			}
			p = p.WithChange(side, 0, 0, 0, tol)
			if p.GrossPnl != want {
				t.Fatalf("gross drifted to %g from %g", p.GrossPnl, want)
			}
		}
	})
}
