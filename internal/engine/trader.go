// Package engine runs the single-threaded dispatch loop that ties market data,
// execution reports and manual orders to the books, ledgers and risk gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/execution"
	"cross_arb/internal/ledger"
	"cross_arb/internal/metrics"
	"cross_arb/internal/orderid"
	"cross_arb/internal/risk"
	"cross_arb/internal/storage"
	"cross_arb/internal/strategy"
)

// Queue names, also used as metric labels.
const (
	QueueMarketData = "md"
	QueueExec       = "exec"
	QueueManual     = "manual"
)

// ErrUnknownInstrument is returned for an instrument without a book.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Config is everything the Trader needs at construction.
type Config struct {
	Instruments []domain.Instrument
	Constraints func(domain.Ccy) domain.Constraints // nil uses domain defaults
	Fees        domain.Fees
	Limits      risk.Limits

	FlatTolerance float64 // 0 uses each instrument's min order qty

	MarketDataCap int
	ExecCap       int
	ManualCap     int

	DryRunExpiry    time.Duration
	RiskLogInterval time.Duration

	// Start anchors the gate's backoff clock. Zero means time.Now.
	Start time.Time

	// Snapshots receives state dumps. Optional.
	Snapshots     *storage.SnapshotManager
	KeepSnapshots int
}

// DefaultConfig returns the queue sizes and intervals used in production.
func DefaultConfig(instruments ...domain.Instrument) Config {
	return Config{
		Instruments:     instruments,
		Fees:            domain.NewFees(domain.DefaultFeeRate),
		Limits:          risk.DefaultLimits(),
		MarketDataCap:   1000,
		ExecCap:         200,
		ManualCap:       10,
		DryRunExpiry:    10 * time.Second,
		RiskLogInterval: 10 * time.Second,
	}
}

// Trader is the decision and bookkeeping engine. Everything except the Offer
// methods, Exec and the PnL accessors belongs to the goroutine running Run.
type Trader struct {
	cfg Config

	execSession execution.ExecSession
	mdSession   execution.MarketDataSession

	wake    event.Signal
	mdQ     *event.Queue[event.Event]
	execQ   *event.Queue[event.Event]
	manualQ *event.Queue[domain.Order]
	queues  []event.HealthReporter
	cmds    chan request

	books       *book.Books
	ledgers     *ledger.Ledgers
	gate        *risk.Gate
	strat       strategy.Strategy
	entries     *strategy.EntryLogger
	constraints map[domain.Instrument]domain.Constraints

	subscribed map[domain.Instrument]struct{}
	active     map[domain.Instrument]struct{}
	dryRun     map[orderid.ClOrdID]domain.Order

	lastRiskLog time.Time
	lastSeq     uint64

	// reused per iteration
	events     []event.Event
	manual     []domain.Order
	lastMdSlot map[domain.Instrument]int
}

// NewTrader builds a halted trader with empty books and ledgers.
func NewTrader(cfg Config) (*Trader, error) {
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("trader needs at least one instrument")
	}
	if cfg.Fees == nil {
		cfg.Fees = domain.ZeroFees{}
	}
	if cfg.Constraints == nil {
		cfg.Constraints = func(domain.Ccy) domain.Constraints { return domain.DefaultConstraints() }
	}
	if cfg.MarketDataCap <= 0 || cfg.ExecCap <= 0 || cfg.ManualCap <= 0 {
		return nil, fmt.Errorf("queue capacities must be positive")
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}

	gate, err := risk.NewGate(cfg.Limits, cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}

	constraints := make(map[domain.Instrument]domain.Constraints, len(cfg.Instruments))
	ledgers := make([]*ledger.Ledger, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if _, dup := constraints[inst]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", inst)
		}
		c := cfg.Constraints(inst.Base)
		constraints[inst] = c
		var opts []ledger.Option
		if cfg.FlatTolerance > 0 {
			opts = append(opts, ledger.WithFlatTolerance(cfg.FlatTolerance))
		}
		ledgers = append(ledgers, ledger.New(inst, c, cfg.Fees, opts...))
	}

	wake := event.NewSignal()
	t := &Trader{
		cfg:         cfg,
		wake:        wake,
		mdQ:         event.NewQueue[event.Event](QueueMarketData, cfg.MarketDataCap, wake),
		execQ:       event.NewQueue[event.Event](QueueExec, cfg.ExecCap, wake),
		manualQ:     event.NewQueue[domain.Order](QueueManual, cfg.ManualCap, wake),
		cmds:        make(chan request, 16),
		books:       book.NewBooks(cfg.Instruments),
		ledgers:     ledger.NewLedgers(ledgers...),
		gate:        gate,
		strat:       strategy.NewCrossedBook(cfg.Fees),
		entries:     strategy.NewEntryLogger(),
		constraints: constraints,
		subscribed:  make(map[domain.Instrument]struct{}),
		active:      make(map[domain.Instrument]struct{}),
		dryRun:      make(map[orderid.ClOrdID]domain.Order),
		lastRiskLog: cfg.Start,
		lastMdSlot:  make(map[domain.Instrument]int),
	}
	t.queues = []event.HealthReporter{t.mdQ, t.execQ, t.manualQ}
	return t, nil
}

// UseSessions attaches the outbound sessions. Call before Run.
func (t *Trader) UseSessions(exec execution.ExecSession, md execution.MarketDataSession) {
	t.execSession = exec
	t.mdSession = md
}

// ExecSink is where the execution session delivers reports.
func (t *Trader) ExecSink() execution.EventSink { return t.execQ }

// MarketDataSink is where the market data session delivers snapshots.
func (t *Trader) MarketDataSink() execution.EventSink { return t.mdQ }

// OfferMarketData enqueues a market data event without blocking.
func (t *Trader) OfferMarketData(ev event.Event) bool { return t.mdQ.Offer(ev) }

// OfferExec enqueues an execution event without blocking.
func (t *Trader) OfferExec(ev event.Event) bool { return t.execQ.Offer(ev) }

// OfferManualOrder enqueues an operator order without blocking.
func (t *Trader) OfferManualOrder(o domain.Order) bool { return t.manualQ.Offer(o) }

// Pnls returns the live PnL of every instrument. Safe from any goroutine.
func (t *Trader) Pnls() map[domain.Instrument]domain.Pnl { return t.ledgers.Pnls() }

// ReplayPnls returns the PnL rebuilt from the current replay.
func (t *Trader) ReplayPnls() map[domain.Instrument]domain.Pnl { return t.ledgers.ReplayPnls() }

// NonflatPnls returns the PnL of instruments with an open position.
func (t *Trader) NonflatPnls() map[domain.Instrument]domain.Pnl { return t.ledgers.NonflatPnls() }

// TheoPnl returns the theoretical PnL of every entry so far. Call from the
// loop goroutine only.
func (t *Trader) TheoPnl() strategy.TheoPnl { return t.entries.Cumulative() }

// Apply runs cmd on the calling goroutine. It is for drivers that step the
// loop themselves, such as a backtest, and must not be mixed with Run.
func (t *Trader) Apply(ctx context.Context, cmd Command) (any, error) {
	return cmd.apply(ctx, t)
}

// Run processes queues and commands until ctx is done.
func (t *Trader) Run(ctx context.Context) error {
	slog.Info("TRADER_STARTED",
		slog.Int("instruments", len(t.cfg.Instruments)),
		slog.String("mode", t.gate.Mode().String()))

	for {
		if ctx.Err() != nil {
			slog.Info("TRADER_STOPPED", slog.String("mode", t.gate.Mode().String()))
			return ctx.Err()
		}
		if t.Step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-t.wake:
		}
	}
}

// Step runs one iteration: pending commands, then the first non-empty queue
// in priority order exec, market data, manual. It reports whether anything
// was processed. A panic inside the iteration halts trading and is not
// propagated.
func (t *Trader) Step(ctx context.Context) (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			t.recovered(r)
			worked = true
		}
	}()

	worked = t.runCommands(ctx)
	return t.drainQueues(ctx) || worked
}

func (t *Trader) drainQueues(ctx context.Context) bool {
	defer func() {
		clear(t.events)
		t.events = t.events[:0]
		t.manual = t.manual[:0]
	}()

	t.events = t.execQ.DrainTo(t.events)
	if n := len(t.events); n > 0 {
		metrics.QueueDepth.WithLabelValues(QueueExec).Set(float64(n))
		for _, ev := range t.events {
			t.guardedExec(ctx, ev)
		}
		return true
	}

	t.events = t.mdQ.DrainTo(t.events)
	if n := len(t.events); n > 0 {
		metrics.QueueDepth.WithLabelValues(QueueMarketData).Set(float64(n))
		if n > 1 {
			t.events = t.coalesce(t.events)
		}
		for _, ev := range t.events {
			t.guardedMarketData(ctx, ev)
		}
		return true
	}

	t.manual = t.manualQ.DrainTo(t.manual)
	if n := len(t.manual); n > 0 {
		metrics.QueueDepth.WithLabelValues(QueueManual).Set(float64(n))
		for _, o := range t.manual {
			t.guardedManualOrder(ctx, o)
		}
		return true
	}
	return false
}

// coalesce keeps only the last snapshot per instrument. Every other event
// keeps its relative position.
func (t *Trader) coalesce(evs []event.Event) []event.Event {
	clear(t.lastMdSlot)
	for i, ev := range evs {
		if md, ok := ev.(*event.MarketData); ok {
			t.lastMdSlot[md.Instrument] = i
		}
	}
	out := evs[:0]
	for i, ev := range evs {
		if md, ok := ev.(*event.MarketData); ok && t.lastMdSlot[md.Instrument] != i {
			continue
		}
		out = append(out, ev)
	}
	clear(evs[len(out):])
	return out
}

// A panic on one event halts trading; the rest of the batch is still applied.
func (t *Trader) guard() {
	if r := recover(); r != nil {
		t.recovered(r)
	}
}

func (t *Trader) guardedExec(ctx context.Context, ev event.Event) {
	defer t.guard()
	t.onExecEvent(ctx, ev)
}

func (t *Trader) guardedMarketData(ctx context.Context, ev event.Event) {
	defer t.guard()
	t.onMarketDataEvent(ctx, ev)
}

func (t *Trader) guardedManualOrder(ctx context.Context, o domain.Order) {
	defer t.guard()
	t.submitManualOrder(ctx, o)
}

func (t *Trader) recovered(r any) {
	metrics.LoopPanics.Inc()
	prev := t.gate.Halt()
	slog.Error("LOOP_PANIC",
		slog.Any("panic", r),
		slog.String("prev_mode", prev.String()),
		slog.String("stack", string(debug.Stack())))
	t.DumpState("panic")
}

func (t *Trader) onExecEvent(ctx context.Context, ev event.Event) {
	t.noteSeq(ev)
	switch e := ev.(type) {
	case *event.ExecReport:
		t.onExecutionReport(ctx, e)
	case *event.SessionStatus:
		prev := t.haltAndDeactivate()
		slog.Error("EXEC_SESSION_STATUS",
			slog.String("status", e.Status),
			slog.String("text", e.Text),
			slog.String("prev_mode", prev.String()))
	case *event.MarketData:
		slog.Error("UNEXPECTED_EVENT", slog.String("queue", QueueExec), slog.String("kind", e.Kind().String()))
	}
}

func (t *Trader) onMarketDataEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case *event.MarketData:
		t.onMarketData(ctx, e)
	case *event.SessionStatus:
		prev := t.haltAndDeactivate()
		t.unsubscribeAll()
		slog.Error("MD_SESSION_STATUS",
			slog.String("status", e.Status),
			slog.String("text", e.Text),
			slog.String("prev_mode", prev.String()))
	case *event.ExecReport:
		slog.Error("UNEXPECTED_EVENT", slog.String("queue", QueueMarketData), slog.String("kind", e.Kind().String()))
	}
}

func (t *Trader) noteSeq(ev event.Event) {
	if seq := ev.GetSeq(); seq > t.lastSeq {
		t.lastSeq = seq
	}
}

func (t *Trader) onMarketData(ctx context.Context, md *event.MarketData) {
	if md.PossDup {
		return
	}
	b, err := t.books.Apply(md)
	if err != nil {
		slog.Warn("MD_DROPPED", slog.Uint64("seq", md.Seq), slog.String("err", err.Error()))
		return
	}
	t.gate.UpdatedMktData(b)
	l, _ := t.ledgers.Get(md.Instrument)
	t.trade(ctx, md.Instrument, b, l, md.RecvTime)
}

func (t *Trader) onExecutionReport(ctx context.Context, er *event.ExecReport) {
	l, execType, err := t.ledgers.HandleExecReport(er)
	if err != nil {
		slog.Error("EXEC_REPORT_DROPPED",
			slog.Uint64("seq", er.Seq),
			slog.String("exec_id", er.ExecID),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("EXEC_REPORT",
		slog.String("instrument", er.Instrument.String()),
		slog.String("exec_type", execType.String()),
		slog.Bool("poss_dup", er.PossDup))

	t.gate.UpdatedLedger(l)
	t.trade(ctx, er.Instrument, t.books.Get(er.Instrument), l, er.RecvTime)
}

func (t *Trader) submitManualOrder(ctx context.Context, o domain.Order) {
	l, ok := t.ledgers.Get(o.Instrument)
	if !ok {
		slog.Error("MANUAL_ORDER_FAILED", slog.String("order", o.String()), slog.String("err", ErrUnknownInstrument.Error()))
		return
	}
	if err := t.send(ctx, o); err != nil {
		slog.Error("MANUAL_ORDER_FAILED", slog.String("order", o.String()), slog.String("err", err.Error()))
		return
	}
	if err := l.AddPendingNew(o); err != nil {
		slog.Error("MANUAL_ORDER_UNTRACKED", slog.String("order", o.String()), slog.String("err", err.Error()))
		return
	}
	slog.Info("MANUAL_ORDER_SENT", slog.String("order", o.String()))
}

func (t *Trader) send(ctx context.Context, o domain.Order) error {
	if t.execSession == nil {
		return execution.ErrNoSession
	}
	return t.execSession.SendNewOrder(ctx, o)
}

func (t *Trader) haltAndDeactivate() domain.TradingMode {
	prev := t.gate.Halt()
	t.deactivateAll()
	return prev
}

func (t *Trader) deactivateAll() []domain.Instrument {
	were := sortedKeys(t.active)
	clear(t.active)
	if len(were) > 0 {
		slog.Info("PAIRS_DEACTIVATED", slog.Any("instruments", instrumentNames(were)))
	}
	return were
}

func (t *Trader) unsubscribeAll() {
	if len(t.active) > 0 {
		slog.Error("UNSUBSCRIBE_WHILE_ACTIVE", slog.Any("instruments", instrumentNames(sortedKeys(t.active))))
		t.haltAndDeactivate()
	}
	if t.mdSession == nil {
		return
	}
	for _, inst := range sortedKeys(t.subscribed) {
		if err := t.mdSession.Unsubscribe(inst); err != nil {
			slog.Error("UNSUBSCRIBE_FAILED", slog.String("instrument", inst.String()), slog.String("err", err.Error()))
			continue
		}
		delete(t.subscribed, inst)
	}
}
