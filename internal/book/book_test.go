package book

import (
	"slices"
	"strings"
	"testing"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"

	"pgregory.net/rapid"
)

var ethUsd = domain.MustInstrument("ETH/USD")

func lvl(side domain.Side, px, qty float64, send time.Time) LevelUpdate {
	return LevelUpdate{Side: side, Px: px, Qty: qty, SendTime: send, RecvTime: send}
}

func TestUpdateBook_SortsBothSides(t *testing.T) {
	now := time.Now()
	b := New(ethUsd)
	bids, asks := b.UpdateBook(
		[]LevelUpdate{lvl(domain.Buy, 1699, 1, now), lvl(domain.Buy, 1700, 1, now), lvl(domain.Buy, 1698, 1, now)},
		[]LevelUpdate{lvl(domain.Sell, 1702, 1, now), lvl(domain.Sell, 1701, 1, now)},
	)

	if bids[0].Px != 1700 || bids[1].Px != 1699 || bids[2].Px != 1698 {
		t.Errorf("bids not descending: %v", bids)
	}
	if asks[0].Px != 1701 || asks[1].Px != 1702 {
		t.Errorf("asks not ascending: %v", asks)
	}
}

func TestUpdateBook_TieBreaks(t *testing.T) {
	old := time.Unix(100, 0)
	recent := time.Unix(200, 0)
	b := New(ethUsd)
	bids, _ := b.UpdateBook([]LevelUpdate{
		lvl(domain.Buy, 1700, 1, old),
		lvl(domain.Buy, 1700, 1, recent),
		lvl(domain.Buy, 1700, 5, old),
	}, nil)

	if bids[0].Qty != 5 {
		t.Errorf("larger qty should come first, got %v", bids[0])
	}
	if !bids[1].SendTime.Equal(recent) {
		t.Errorf("more recent send time should come first, got %v", bids[1])
	}
}

func TestApply_PossDupIsNoop(t *testing.T) {
	now := time.Now()
	b := New(ethUsd)
	md := &event.MarketData{
		BaseEvent:  event.BaseEvent{RecvTime: now},
		Instrument: ethUsd,
		SendTime:   now,
		Levels:     []event.Level{{Side: domain.Buy, Px: 1700, Qty: 1}, {Side: domain.Sell, Px: 1701, Qty: 2}},
	}
	if err := b.Apply(md); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	dup := &event.MarketData{
		BaseEvent:  event.BaseEvent{RecvTime: now, PossDup: true},
		Instrument: ethUsd,
		Levels:     []event.Level{{Side: domain.Buy, Px: 1, Qty: 1}},
	}
	if err := b.Apply(dup); err != nil {
		t.Fatalf("Apply dup failed: %v", err)
	}
	if best, _ := b.Best(domain.Buy); best.Px != 1700 {
		t.Errorf("duplicate refresh modified book: %v", best)
	}
	if len(b.Get(domain.Sell)) != 1 {
		t.Error("duplicate refresh modified asks")
	}
}

func TestApply_WrongInstrument(t *testing.T) {
	b := New(ethUsd)
	md := &event.MarketData{Instrument: domain.MustInstrument("BTC/USD")}
	if err := b.Apply(md); err == nil {
		t.Error("expected error for mismatched instrument")
	}
}

func TestBooks_Apply(t *testing.T) {
	bs := NewBooks([]domain.Instrument{ethUsd})
	md := &event.MarketData{Instrument: ethUsd, Levels: []event.Level{{Side: domain.Sell, Px: 10, Qty: 1}}}
	b, err := bs.Apply(md)
	if err != nil || b != bs.Get(ethUsd) {
		t.Fatalf("Apply = %v, %v", b, err)
	}
	if _, err := bs.Apply(&event.MarketData{Instrument: domain.MustInstrument("X/Y")}); err == nil {
		t.Error("expected error for unknown instrument")
	}
}

func TestPrint_ShowsCrossedAndLimitsUncrossed(t *testing.T) {
	now := time.Now()
	b := New(ethUsd)
	b.UpdateBook(
		[]LevelUpdate{lvl(domain.Buy, 1700, 9, now), lvl(domain.Buy, 1699, 2, now), lvl(domain.Buy, 1690, 1, now), lvl(domain.Buy, 1680, 1, now)},
		[]LevelUpdate{lvl(domain.Sell, 1698.8, 3, now), lvl(domain.Sell, 1701, 100, now), lvl(domain.Sell, 1702, 5, now)},
	)

	out := b.Print(1)
	lines := strings.Split(out, "\n")
	if !strings.Contains(lines[1], "BIDS") || !strings.Contains(lines[1], "ASKS") {
		t.Fatalf("missing header: %q", lines[1])
	}
	for _, want := range []string{"9 @ 1700", "1698.8 @   3", "1701 @ 100", "2 @ 1699", "1 @ 1690"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}
	for _, hidden := range []string{"1702", "1680"} {
		if strings.Contains(out, hidden) {
			t.Errorf("did not expect %q in\n%s", hidden, out)
		}
	}
}

func TestPrint_EmptyBook(t *testing.T) {
	out := New(ethUsd).Print(5)
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected header only, got\n%s", out)
	}
}

func TestProperty_SortInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gen := func(side domain.Side, label string) []LevelUpdate {
			n := rapid.IntRange(0, 20).Draw(t, label+"_n")
			out := make([]LevelUpdate, n)
			for i := range out {
				out[i] = LevelUpdate{
					Side:     side,
					Px:       float64(rapid.IntRange(1690, 1710).Draw(t, label+"_px")),
					Qty:      float64(rapid.IntRange(1, 5).Draw(t, label+"_qty")),
					SendTime: time.Unix(rapid.Int64Range(0, 3).Draw(t, label+"_send"), 0),
					RecvTime: time.Unix(rapid.Int64Range(0, 3).Draw(t, label+"_recv"), 0),
				}
			}
			return out
		}
		bidsIn := gen(domain.Buy, "bid")
		asksIn := gen(domain.Sell, "ask")

		b := New(ethUsd)
		bids, asks := b.UpdateBook(bidsIn, asksIn)

		check := func(levels []LevelUpdate) {
			for i := 1; i < len(levels); i++ {
				if Compare(levels[i-1], levels[i]) > 0 {
					t.Fatalf("out of order at %d: %v then %v", i, levels[i-1], levels[i])
				}
			}
		}
		check(bids)
		check(asks)

		// Independent of input order.
		rev := slices.Clone(bidsIn)
		slices.Reverse(rev)
		bids2, _ := New(ethUsd).UpdateBook(rev, nil)
		for i := range bids {
			if Compare(bids[i], bids2[i]) != 0 {
				t.Fatalf("result depends on input order at %d", i)
			}
		}
	})
}
