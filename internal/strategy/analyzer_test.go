package strategy_test

import (
	"math"
	"testing"
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/strategy"

	"pgregory.net/rapid"
)

const minSigQty = 0.0001

var ethUsd = domain.MustInstrument("ETH/USD")

func bid(px, qty float64, now time.Time) book.LevelUpdate {
	return book.LevelUpdate{Side: domain.Buy, Px: px, Qty: qty, SendTime: now, RecvTime: now}
}

func ask(px, qty float64, now time.Time) book.LevelUpdate {
	return book.LevelUpdate{Side: domain.Sell, Px: px, Qty: qty, SendTime: now, RecvTime: now}
}

func complexBook(now time.Time) *book.Book {
	b := book.New(ethUsd)
	b.UpdateBook(
		[]book.LevelUpdate{bid(1700.0, 9, now), bid(1699.0, 2, now)},
		[]book.LevelUpdate{
			ask(1698.8, 3, now), ask(1698.9, 1, now), ask(1699.8, 2, now),
			ask(1699.9, 6, now), ask(1701.0, 100, now),
		},
	)
	return b
}

func TestAnalyze_UncrossedBook(t *testing.T) {
	now := time.Now()
	b := book.New(ethUsd)
	b.UpdateBook([]book.LevelUpdate{bid(1700.0, 0.1, now)}, []book.LevelUpdate{ask(1700.1, 0.1, now)})

	a := strategy.NewAnalyzer(domain.ZeroFees{}).Analyze(b, minSigQty)
	if a.Crossed() {
		t.Errorf("expected not crossed, got %+v", a)
	}
}

func TestAnalyze_EmptySide(t *testing.T) {
	now := time.Now()
	b := book.New(ethUsd)
	b.UpdateBook([]book.LevelUpdate{bid(1700.0, 1, now)}, nil)
	if strategy.NewAnalyzer(nil).Analyze(b, minSigQty).Crossed() {
		t.Error("empty ask side must not be crossed")
	}
}

func TestAnalyze_SimpleCross(t *testing.T) {
	now := time.Now()
	b := book.New(ethUsd)
	bidUpdate := bid(1700.0, 0.1, now)
	askUpdate := ask(1699.9, 0.05, now)
	b.UpdateBook([]book.LevelUpdate{bidUpdate}, []book.LevelUpdate{askUpdate})

	a := strategy.NewAnalyzer(domain.ZeroFees{}).Analyze(b, minSigQty)
	if len(a.Bids) != 1 || len(a.Asks) != 1 {
		t.Fatalf("expected one contribution per side, got %d bids %d asks", len(a.Bids), len(a.Asks))
	}
	if a.Bids[0].Update != bidUpdate || a.Bids[0].Qty != 0.05 {
		t.Errorf("unexpected bid contribution %+v", a.Bids[0])
	}
	if a.Asks[0].Update != askUpdate || a.Asks[0].Qty != 0.05 {
		t.Errorf("unexpected ask contribution %+v", a.Asks[0])
	}
	if a.TheoVal <= 0 {
		t.Errorf("expected positive theo val, got %g", a.TheoVal)
	}
}

func TestAnalyze_ComplexCross(t *testing.T) {
	now := time.Now()
	a := strategy.NewAnalyzer(domain.ZeroFees{}).Analyze(complexBook(now), minSigQty)

	want := []struct {
		px, qty float64
	}{
		{1700, 5}, {1700, 2}, {1700, 1}, {1700, 1}, {1699, 2},
	}
	if len(a.Bids) != len(want) {
		t.Fatalf("expected %d bid contributions, got %d: %+v", len(want), len(a.Bids), a.Bids)
	}
	for i, w := range want {
		if a.Bids[i].Px() != w.px || a.Bids[i].Qty != w.qty {
			t.Errorf("bid %d: got %g @ %g, want %g @ %g", i, a.Bids[i].Qty, a.Bids[i].Px(), w.qty, w.px)
		}
	}
	if a.BidQty() != 11 {
		t.Errorf("bid total %g, want 11", a.BidQty())
	}
	if math.Abs(a.TheoVal-3.599999999998545) > 1e-6 {
		t.Errorf("theo val %v, want 3.6", a.TheoVal)
	}

	wantAsks := []float64{1698.8, 1698.8, 1698.9, 1699.8, 1699.9}
	for i, px := range wantAsks {
		if a.Asks[i].Px() != px {
			t.Errorf("ask %d: px %g, want %g", i, a.Asks[i].Px(), px)
		}
	}
}

func TestAnalyze_ComplexCrossWithFees(t *testing.T) {
	now := time.Now()
	fees := domain.ProportionalFees{Rate: domain.DefaultFeeRate}
	a := strategy.NewAnalyzer(fees).Analyze(complexBook(now), minSigQty)

	want := []struct {
		px, qty float64
	}{
		{1700, 2}, {1700, 1}, {1700, 1}, {1699, 2},
	}
	if len(a.Bids) != len(want) {
		t.Fatalf("expected %d bid contributions, got %d: %+v", len(want), len(a.Bids), a.Bids)
	}
	for i, w := range want {
		if a.Bids[i].Px() != w.px || a.Bids[i].Qty != w.qty {
			t.Errorf("bid %d: got %g @ %g, want %g @ %g", i, a.Bids[i].Qty, a.Bids[i].Px(), w.qty, w.px)
		}
	}
	if math.Abs(a.TheoVal-2.080354999998235) > 1e-6 {
		t.Errorf("theo val %v, want 2.080355", a.TheoVal)
	}
}

func TestAnalyze_DustLevelsSkipped(t *testing.T) {
	now := time.Now()
	b := book.New(ethUsd)
	b.UpdateBook(
		[]book.LevelUpdate{bid(1700, 1, now)},
		[]book.LevelUpdate{ask(1698, 0.00001, now), ask(1699, 0.5, now)},
	)
	a := strategy.NewAnalyzer(domain.ZeroFees{}).Analyze(b, minSigQty)
	for _, c := range a.Asks {
		if c.Qty < minSigQty {
			t.Errorf("dust contribution emitted: %+v", c)
		}
	}
	if len(a.Asks) != 1 || a.Asks[0].Px() != 1699 {
		t.Errorf("expected single contribution at 1699, got %+v", a.Asks)
	}
}

func TestAnalyze_AllDustIsNotCrossed(t *testing.T) {
	now := time.Now()
	b := book.New(ethUsd)
	b.UpdateBook([]book.LevelUpdate{bid(1700, 0.00001, now)}, []book.LevelUpdate{ask(1699, 1, now)})
	if strategy.NewAnalyzer(nil).Analyze(b, minSigQty).Crossed() {
		t.Error("dust-only cross should not be reported")
	}
}

func genLevels(t *rapid.T, side domain.Side, label string, lo, hi int, now time.Time) []book.LevelUpdate {
	n := rapid.IntRange(1, 8).Draw(t, label+"_n")
	out := make([]book.LevelUpdate, n)
	for i := range out {
		out[i] = book.LevelUpdate{
			Side:     side,
			Px:       float64(rapid.IntRange(lo, hi).Draw(t, label+"_px")) / 10,
			Qty:      float64(rapid.IntRange(1, 500).Draw(t, label+"_qty")) / 100,
			SendTime: now,
			RecvTime: now,
		}
	}
	return out
}

func TestProperty_CrossedBookConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Now()
		b := book.New(ethUsd)
		b.UpdateBook(genLevels(t, domain.Buy, "bid", 16980, 17020, now), genLevels(t, domain.Sell, "ask", 16980, 17020, now))

		var fees domain.Fees = domain.ZeroFees{}
		if rapid.Bool().Draw(t, "fees") {
			fees = domain.ProportionalFees{Rate: domain.DefaultFeeRate}
		}
		a := strategy.NewAnalyzer(fees).Analyze(b, minSigQty)
		if !a.Crossed() {
			return
		}

		if math.Abs(a.BidQty()-a.AskQty()) > 1e-9 {
			t.Fatalf("bid qty %g != ask qty %g", a.BidQty(), a.AskQty())
		}

		var theo float64
		for _, c := range a.Bids {
			theo += c.Qty * fees.AdjustedPx(domain.Buy, c.Px())
		}
		for _, c := range a.Asks {
			theo -= c.Qty * fees.AdjustedPx(domain.Sell, c.Px())
		}
		if math.Abs(theo-a.TheoVal) > 1e-6 {
			t.Fatalf("theo %g != sum of contributions %g", a.TheoVal, theo)
		}
		if a.TheoVal <= 0 {
			t.Fatalf("crossed analysis with non-positive theo %g", a.TheoVal)
		}
		for i := 1; i < len(a.Bids); i++ {
			if a.Bids[i].Px() > a.Bids[i-1].Px() {
				t.Fatalf("bids not best first: %+v", a.Bids)
			}
		}
		for i := 1; i < len(a.Asks); i++ {
			if a.Asks[i].Px() < a.Asks[i-1].Px() {
				t.Fatalf("asks not best first: %+v", a.Asks)
			}
		}
	})
}

func TestProperty_NoFalseCross(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Now()
		bids := genLevels(t, domain.Buy, "bid", 16900, 17000, now)
		asks := genLevels(t, domain.Sell, "ask", 17000, 17100, now)

		var fees domain.Fees = domain.ZeroFees{}
		if rapid.Bool().Draw(t, "fees") {
			fees = domain.ProportionalFees{Rate: domain.DefaultFeeRate}
		}

		b := book.New(ethUsd)
		b.UpdateBook(bids, asks)
		bestBid, _ := b.Best(domain.Buy)
		bestAsk, _ := b.Best(domain.Sell)
		if fees.AdjustedPx(domain.Buy, bestBid.Px) >= fees.AdjustedPx(domain.Sell, bestAsk.Px) {
			t.Skip("generated a crossed book")
		}

		if a := strategy.NewAnalyzer(fees).Analyze(b, minSigQty); a.Crossed() {
			t.Fatalf("false cross: %+v", a)
		}
	})
}
