package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/execution"
	"cross_arb/internal/orderid"
	"cross_arb/internal/storage"
	"cross_arb/internal/strategy"
)

var (
	btcUsd = domain.MustInstrument("BTC/USD")
	ethUsd = domain.MustInstrument("ETH/USD")
	t0     = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
)

type px struct{ px, qty float64 }

func snapshot(inst domain.Instrument, at time.Time, bids, asks []px) *event.MarketData {
	md := &event.MarketData{
		BaseEvent:  event.BaseEvent{RecvTime: at},
		Instrument: inst,
		SendTime:   at,
	}
	for _, l := range bids {
		md.Levels = append(md.Levels, event.Level{Side: domain.Buy, Px: l.px, Qty: l.qty})
	}
	for _, l := range asks {
		md.Levels = append(md.Levels, event.Level{Side: domain.Sell, Px: l.px, Qty: l.qty})
	}
	return md
}

// crossed is a BTC book with 0.5 of edge per unit and a full unit each side.
func crossed(at time.Time) *event.MarketData {
	return snapshot(btcUsd, at, []px{{100.5, 1}, {99, 3}}, []px{{100, 1}, {101, 2}})
}

func flat(at time.Time) *event.MarketData {
	return snapshot(btcUsd, at, []px{{99, 1}}, []px{{100, 1}})
}

func newTrader(t *testing.T, mutate ...func(*Config)) (*Trader, *execution.MockSession) {
	t.Helper()
	cfg := DefaultConfig(btcUsd, ethUsd)
	cfg.Fees = domain.ZeroFees{}
	cfg.Start = t0
	for _, m := range mutate {
		m(&cfg)
	}
	tr, err := NewTrader(cfg)
	if err != nil {
		t.Fatalf("NewTrader: %v", err)
	}
	mock := execution.NewMockSession()
	tr.UseSessions(mock, mock)
	return tr, mock
}

func do(t *testing.T, tr *Trader, cmd Command) any {
	t.Helper()
	v, err := cmd.apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("%T: %v", cmd, err)
	}
	return v
}

// ready subscribes and activates BTC/USD, loads rounds and sets mode.
func ready(t *testing.T, tr *Trader, mode domain.TradingMode) {
	t.Helper()
	do(t, tr, SubscribeMarketData{Instruments: []domain.Instrument{btcUsd}})
	do(t, tr, ActivatePairs{Instruments: []domain.Instrument{btcUsd}})
	do(t, tr, LoadMag{Rounds: 10})
	do(t, tr, SetTradingMode{Mode: mode})
}

func step(t *testing.T, tr *Trader) {
	t.Helper()
	if !tr.Step(context.Background()) {
		t.Fatal("Step found nothing to do")
	}
}

func TestTrader_LiveEntrySendsMatchedPair(t *testing.T) {
	tr, mock := newTrader(t)
	ready(t, tr, domain.Live)

	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	step(t, tr)

	orders := mock.Orders()
	if len(orders) != 2 {
		t.Fatalf("sent %d orders, want 2", len(orders))
	}
	buy, sell := orders[0], orders[1]
	if buy.Side != domain.Buy || sell.Side != domain.Sell {
		t.Fatalf("sides = %s, %s", buy.Side, sell.Side)
	}
	if buy.Qty != 0.2 || sell.Qty != 0.2 {
		t.Errorf("qty = %g/%g, want the 0.2 BTC trade cap", buy.Qty, sell.Qty)
	}
	if buy.TIF != domain.IOC || sell.TIF != domain.IOC {
		t.Errorf("tif = %s/%s, want IOC", buy.TIF, sell.TIF)
	}
	if buy.Px < 100 || buy.Px > 100.5 || sell.Px < 100 || sell.Px > 100.5 {
		t.Errorf("prices outside the cross: buy %g sell %g", buy.Px, sell.Px)
	}
	if buy.ID == sell.ID {
		t.Error("legs share an id")
	}
	if got := tr.gate.Rounds(); got != 8 {
		t.Errorf("rounds = %d, want 8", got)
	}
	l, _ := tr.ledgers.Get(btcUsd)
	if l.FillableCount() != 2 {
		t.Errorf("fillable = %d, want 2", l.FillableCount())
	}

	// one entry in flight blocks the next
	tr.OfferMarketData(crossed(t0.Add(time.Minute + 10*time.Second)))
	step(t, tr)
	if n := len(mock.Orders()); n != 2 {
		t.Errorf("sent %d orders with an entry in flight", n)
	}
}

func TestTrader_NoEntryWhenNotEligible(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, tr *Trader)
		md    *event.MarketData
	}{
		{"halted", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
			do(t, tr, SetTradingMode{Mode: domain.Halted})
		}, crossed(t0.Add(time.Minute))},
		{"inactive", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
			do(t, tr, DeactivatePairs{Instruments: []domain.Instrument{btcUsd}})
		}, crossed(t0.Add(time.Minute))},
		{"empty magazine", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
			do(t, tr, EmptyMag{})
		}, crossed(t0.Add(time.Minute))},
		{"within backoff of start", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
			do(t, tr, SetLimit{Name: "backoff_secs", Value: 600})
		}, crossed(t0.Add(time.Minute))},
		{"not crossed", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
		}, flat(t0.Add(time.Minute))},
		{"duplicate snapshot", func(t *testing.T, tr *Trader) {
			ready(t, tr, domain.Live)
		}, func() *event.MarketData {
			md := crossed(t0.Add(time.Minute))
			md.PossDup = true
			return md
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, mock := newTrader(t)
			tt.setup(t, tr)
			tr.OfferMarketData(tt.md)
			step(t, tr)
			if n := len(mock.Orders()); n != 0 {
				t.Errorf("sent %d orders", n)
			}
		})
	}
}

func TestTrader_DryRunOrdersExpire(t *testing.T) {
	tr, mock := newTrader(t)
	ready(t, tr, domain.DryRun)
	l, _ := tr.ledgers.Get(btcUsd)

	first := t0.Add(time.Minute)
	tr.OfferMarketData(crossed(first))
	step(t, tr)

	if n := len(mock.Orders()); n != 0 {
		t.Fatalf("dry run sent %d orders to the venue", n)
	}
	if len(tr.dryRun) != 2 || l.FillableCount() != 2 {
		t.Fatalf("dry run orders = %d, fillable = %d", len(tr.dryRun), l.FillableCount())
	}
	oldIDs := l.Fillable()

	// still within expiry: the open entry blocks
	tr.OfferMarketData(crossed(first.Add(5 * time.Second)))
	step(t, tr)
	if got := tr.gate.Rounds(); got != 8 {
		t.Fatalf("rounds = %d after blocked entry, want 8", got)
	}

	// past expiry: old orders are force-canceled and a new entry goes in
	tr.OfferMarketData(crossed(first.Add(11 * time.Second)))
	step(t, tr)
	for _, id := range oldIDs {
		st, ok := l.Order(id)
		if !ok || st.Status != domain.Canceled {
			t.Errorf("order %v status = %v, want CANCELED", id, st.Status)
		}
	}
	if len(tr.dryRun) != 2 || l.FillableCount() != 2 {
		t.Errorf("after expiry dry run orders = %d, fillable = %d", len(tr.dryRun), l.FillableCount())
	}
	if got := tr.gate.Rounds(); got != 6 {
		t.Errorf("rounds = %d, want 6", got)
	}
	if tr.entries.Cumulative().Gross <= 0 {
		t.Errorf("theo gross = %g, want positive", tr.entries.Cumulative().Gross)
	}
}

func TestTrader_QueuePriority(t *testing.T) {
	tr, _ := newTrader(t)

	tr.OfferManualOrder(domain.Order{Instrument: btcUsd})
	tr.OfferMarketData(flat(t0))
	tr.OfferExec(&event.SessionStatus{Source: event.SourceExec, Status: "LOGGED_OUT"})

	step(t, tr)
	if tr.execQ.Len() != 0 || tr.mdQ.Len() != 1 || tr.manualQ.Len() != 1 {
		t.Fatalf("after exec step: exec=%d md=%d manual=%d", tr.execQ.Len(), tr.mdQ.Len(), tr.manualQ.Len())
	}
	step(t, tr)
	if tr.mdQ.Len() != 0 || tr.manualQ.Len() != 1 {
		t.Fatalf("after md step: md=%d manual=%d", tr.mdQ.Len(), tr.manualQ.Len())
	}
	step(t, tr)
	if tr.manualQ.Len() != 0 {
		t.Fatalf("manual queue not drained")
	}
	if tr.Step(context.Background()) {
		t.Error("Step reported work on empty queues")
	}
}

func TestTrader_CoalesceKeepsLatestSnapshot(t *testing.T) {
	tr, _ := newTrader(t)
	btc1 := flat(t0)
	eth := snapshot(ethUsd, t0, []px{{10, 1}}, []px{{11, 1}})
	status := &event.SessionStatus{Status: "X"}
	btc2 := crossed(t0.Add(time.Second))

	got := tr.coalesce([]event.Event{btc1, eth, status, btc2})
	want := []event.Event{eth, status, btc2}
	if len(got) != len(want) {
		t.Fatalf("coalesced %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTrader_SessionStatusHalts(t *testing.T) {
	t.Run("exec", func(t *testing.T) {
		tr, mock := newTrader(t)
		ready(t, tr, domain.Live)
		tr.OfferExec(&event.SessionStatus{Source: event.SourceExec, Status: "LOGGED_OUT"})
		step(t, tr)

		if tr.gate.Mode() != domain.Halted {
			t.Errorf("mode = %s, want HALTED", tr.gate.Mode())
		}
		if len(tr.active) != 0 {
			t.Errorf("active = %v", sortedKeys(tr.active))
		}
		if !mock.Subscribed(btcUsd) {
			t.Error("exec status should keep the market data subscription")
		}
	})
	t.Run("market data", func(t *testing.T) {
		tr, mock := newTrader(t)
		ready(t, tr, domain.Live)
		tr.OfferMarketData(&event.SessionStatus{Source: event.SourceMarketData, Status: "DISCONNECTED"})
		step(t, tr)

		if tr.gate.Mode() != domain.Halted || len(tr.active) != 0 {
			t.Errorf("mode = %s active = %d", tr.gate.Mode(), len(tr.active))
		}
		if mock.Subscribed(btcUsd) || len(tr.subscribed) != 0 {
			t.Error("market data status should unsubscribe")
		}
	})
}

func TestTrader_ExecReportsUpdateLedger(t *testing.T) {
	tr, mock := newTrader(t)
	ready(t, tr, domain.Live)
	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	step(t, tr)
	orders := mock.Orders()
	buy, sell := orders[0], orders[1]

	at := t0.Add(time.Minute + time.Millisecond)
	fill := func(o domain.Order, px float64) *event.ExecReport {
		return &event.ExecReport{
			BaseEvent:  event.BaseEvent{Seq: 1, RecvTime: at},
			ExecID:     "x",
			ClOrdID:    o.ID,
			Instrument: btcUsd,
			Side:       o.Side,
			ExecType:   event.ExecFill,
			LastQty:    o.Qty,
			LastPx:     px,
			CumQty:     o.Qty,
			AvgPx:      px,
		}
	}
	tr.OfferExec(fill(buy, 100))
	tr.OfferExec(fill(sell, 100.5))
	step(t, tr)

	pnl := tr.Pnls()[btcUsd]
	if math.Abs(pnl.GrossPnl-0.1) > 1e-9 {
		t.Errorf("gross = %g, want 0.1", pnl.GrossPnl)
	}
	l, _ := tr.ledgers.Get(btcUsd)
	if l.FillableCount() != 0 {
		t.Errorf("fillable = %d after fills", l.FillableCount())
	}
	if len(tr.NonflatPnls()) != 0 {
		t.Errorf("nonflat = %v", tr.NonflatPnls())
	}
	// backoff still holds on the re-evaluation after the fills
	if n := len(mock.Orders()); n != 2 {
		t.Errorf("sent %d orders, want 2", n)
	}
}

func TestTrader_RejectHaltsTrading(t *testing.T) {
	tr, mock := newTrader(t)
	ready(t, tr, domain.Live)
	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	step(t, tr)
	buy := mock.Orders()[0]

	tr.OfferExec(&event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 1, RecvTime: t0.Add(time.Minute)},
		ClOrdID:    buy.ID,
		Instrument: btcUsd,
		Side:       domain.Buy,
		ExecType:   event.ExecRejected,
		Text:       "insufficient funds",
	})
	step(t, tr)

	if tr.gate.Mode() != domain.Halted {
		t.Errorf("mode = %s, want HALTED", tr.gate.Mode())
	}
	if !tr.gate.Breakers().IsTripped(btcUsd) {
		t.Error("breaker should be tripped")
	}
}

func TestTrader_UnknownReportDropped(t *testing.T) {
	tr, _ := newTrader(t)
	tr.OfferExec(&event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 7, RecvTime: t0},
		ExecID:     "orphan",
		Instrument: btcUsd,
		Side:       domain.Buy,
		ExecType:   event.ExecFill,
		LastQty:    1,
		LastPx:     100,
	})
	step(t, tr)

	if pnl := tr.Pnls()[btcUsd]; pnl.BotQty != 0 {
		t.Errorf("orphan fill applied: %v", pnl)
	}
	if tr.State().LastSeq != 7 {
		t.Errorf("last seq = %d", tr.State().LastSeq)
	}
}

type panicStrategy struct{}

func (panicStrategy) Analyze(*book.Book, float64) strategy.Analysis { panic("boom") }
func (panicStrategy) Plan(domain.Instrument, strategy.Analysis, domain.Constraints, strategy.SizeLimits, time.Time) (domain.CxOrders, bool) {
	return domain.CxOrders{}, false
}

func TestTrader_PanicHaltsAndContinues(t *testing.T) {
	dir := t.TempDir()
	tr, _ := newTrader(t, func(c *Config) {
		c.Snapshots = storage.NewSnapshotManager(dir)
		c.KeepSnapshots = 3
	})
	ready(t, tr, domain.Live)
	tr.strat = panicStrategy{}

	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	if !tr.Step(context.Background()) {
		t.Fatal("panicking step should report work")
	}
	if tr.gate.Mode() != domain.Halted {
		t.Errorf("mode = %s, want HALTED", tr.gate.Mode())
	}

	snap, err := storage.NewSnapshotManager(dir).LoadLatest()
	if err != nil || snap == nil {
		t.Fatalf("no state dump: %v", err)
	}
	if snap.Reason != "panic" {
		t.Errorf("reason = %q", snap.Reason)
	}

	// the loop keeps going
	tr.OfferExec(&event.SessionStatus{Status: "X"})
	step(t, tr)
}

func TestTrader_PanicKeepsRestOfBatch(t *testing.T) {
	tr, _ := newTrader(t)
	ready(t, tr, domain.Live)
	tr.strat = panicStrategy{}

	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	tr.OfferMarketData(snapshot(ethUsd, t0.Add(time.Minute), []px{{2000, 1}}, []px{{2001, 1}}))
	step(t, tr)

	if tr.gate.Mode() != domain.Halted {
		t.Errorf("mode = %s, want HALTED", tr.gate.Mode())
	}
	if _, ok := tr.books.Get(ethUsd).Best(domain.Buy); !ok {
		t.Error("snapshot after the panicking one was dropped")
	}
}

func TestTrader_BadReportKeepsRestOfBatch(t *testing.T) {
	tr, _ := newTrader(t)
	l, _ := tr.ledgers.Get(btcUsd)
	id := orderid.New(t0)
	if err := l.AddPendingNew(domain.Order{ID: id, Instrument: btcUsd, Ccy: "BTC", Side: domain.Buy, Qty: 0.2, Px: 100, TIF: domain.IOC, SentTime: t0}); err != nil {
		t.Fatal(err)
	}

	bad := &event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 1, RecvTime: t0, PossDup: true},
		ExecID:     "dup-1",
		ClOrdID:    id,
		Instrument: btcUsd,
		ExecType:   event.ExecFill,
		LastQty:    0.2,
		LastPx:     100,
	}
	good := &event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 2, RecvTime: t0},
		ExecID:     "fill-1",
		ClOrdID:    id,
		Instrument: btcUsd,
		Side:       domain.Buy,
		ExecType:   event.ExecFill,
		LastQty:    0.2,
		LastPx:     100,
		CumQty:     0.2,
		AvgPx:      100,
	}
	tr.OfferExec(bad)
	tr.OfferExec(good)
	step(t, tr)

	st, _ := l.Order(id)
	if st.Status != domain.Filled {
		t.Errorf("status = %s, want FILLED", st.Status)
	}
	if got := tr.Pnls()[btcUsd].BotQty; math.Abs(got-0.2) > 1e-9 {
		t.Errorf("bot qty = %g, want 0.2", got)
	}
	if l.FillableCount() != 0 {
		t.Errorf("fillable = %d", l.FillableCount())
	}
	if tr.ReplayPnls()[btcUsd].BotQty != 0 {
		t.Error("report without a side reached the replay pnl")
	}
}

func TestTrader_ManualOrders(t *testing.T) {
	tr, mock := newTrader(t)
	l, _ := tr.ledgers.Get(btcUsd)

	good := domain.Order{ID: orderid.New(t0), Instrument: btcUsd, Ccy: "BTC", Side: domain.Buy, Qty: 0.01, Px: 100, TIF: domain.Day, SentTime: t0}
	tr.OfferManualOrder(good)
	step(t, tr)
	if len(mock.Orders()) != 1 || l.FillableCount() != 1 {
		t.Fatalf("manual order not sent/tracked: sent=%d fillable=%d", len(mock.Orders()), l.FillableCount())
	}

	mock.FailWith(errors.New("venue down"))
	bad := good
	bad.ID = orderid.New(t0.Add(time.Second))
	tr.OfferManualOrder(bad)
	step(t, tr)
	if l.FillableCount() != 1 {
		t.Errorf("failed manual order was tracked")
	}
}

func TestTrader_QueueOverflowBlocksUntilReset(t *testing.T) {
	tr, mock := newTrader(t, func(c *Config) { c.MarketDataCap = 1 })
	ready(t, tr, domain.Live)

	tr.OfferMarketData(crossed(t0.Add(time.Minute)))
	if tr.OfferMarketData(crossed(t0.Add(time.Minute))) {
		t.Fatal("offer to a full queue succeeded")
	}
	step(t, tr)
	if n := len(mock.Orders()); n != 0 {
		t.Fatalf("sent %d orders with an unhealthy queue", n)
	}

	do(t, tr, SetQueuesHealthy{})
	tr.OfferMarketData(crossed(t0.Add(2 * time.Minute)))
	step(t, tr)
	if n := len(mock.Orders()); n != 2 {
		t.Errorf("sent %d orders after reset, want 2", n)
	}
}
