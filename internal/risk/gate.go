package risk

import (
	"fmt"
	"log/slog"
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/strategy"
	"cross_arb/pkg/quant"
)

// Decision is the outcome of the admission gate. Anything other than
// Approved names the first check that failed.
type Decision uint8

const (
	Approved Decision = iota
	TradingHalted
	CircuitBreaker
	MagEmpty
	UnhealthyQueue
	MaxLoss
	PairConcurrentEntries
	SystemConcurrentEntries
	BackoffInterval
	TradeTheoVal
	CrossRatio
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "APPROVED"
	case TradingHalted:
		return "TRADING_HALTED"
	case CircuitBreaker:
		return "CIRCUIT_BREAKER"
	case MagEmpty:
		return "MAG_EMPTY"
	case UnhealthyQueue:
		return "UNHEALTHY_QUEUE"
	case MaxLoss:
		return "MAX_LOSS"
	case PairConcurrentEntries:
		return "PAIR_CONCURRENT_ENTRIES"
	case SystemConcurrentEntries:
		return "SYSTEM_CONCURRENT_ENTRIES"
	case BackoffInterval:
		return "BACKOFF_INTERVAL"
	case TradeTheoVal:
		return "TRADE_THEO_VAL"
	case CrossRatio:
		return "CROSS_RATIO"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether the rejection clears without operator action,
// as working orders finish, time passes or the book moves.
func (d Decision) Retryable() bool {
	switch d {
	case PairConcurrentEntries, SystemConcurrentEntries, BackoffInterval, TradeTheoVal, CrossRatio:
		return true
	default:
		return false
	}
}

// LedgerView is the part of the ledger registry the gate reads.
type LedgerView interface {
	SumPnls(pred func(domain.Instrument) bool) domain.Pnl
	FillableFor(inst domain.Instrument) int
	AllFillableCount() int
}

// LedgerState is a single instrument's ledger as seen after an update.
type LedgerState interface {
	Instrument() domain.Instrument
	Pnl() domain.Pnl
	RejectedCount() int
}

const (
	initialEntryAge  = 5 * time.Minute
	skipLogInterval  = 5 * time.Second
	breakerBadData   = "bad market data"
	breakerEmptySide = "empty book side"
	breakerPosVal    = "position notional"
	breakerPosQty    = "position quantity"
	breakerRejected  = "order rejected"
)

// Gate owns the trading mode, risk limits, breakers and magazine. It is
// driven from the dispatch loop only; Breakers may be read elsewhere.
type Gate struct {
	mode     domain.TradingMode
	limits   Limits
	breakers *Breakers
	mag      magazine

	start        time.Time
	lastEntry    map[domain.Instrument]time.Time
	rejectedSeen map[domain.Instrument]int
	lastSkipLog  map[domain.Instrument]time.Time
}

// Snapshot is a read-only copy of the gate's state.
type Snapshot struct {
	Mode     domain.TradingMode  `json:"mode"`
	Rounds   int                 `json:"rounds"`
	Breakers []domain.Instrument `json:"breakers"`
	Limits   Limits              `json:"limits"`
}

// NewGate creates a halted gate with an empty magazine.
func NewGate(limits Limits, now time.Time) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		mode:         domain.Halted,
		limits:       limits.Clone(),
		breakers:     NewBreakers(),
		start:        now,
		lastEntry:    make(map[domain.Instrument]time.Time),
		rejectedSeen: make(map[domain.Instrument]int),
		lastSkipLog:  make(map[domain.Instrument]time.Time),
	}, nil
}

func (g *Gate) bump() { g.limits.Version++ }

// Mode returns the current trading mode.
func (g *Gate) Mode() domain.TradingMode { return g.mode }

// SetTradingMode switches the mode and returns the previous one.
func (g *Gate) SetTradingMode(m domain.TradingMode) domain.TradingMode {
	prev := g.mode
	g.mode = m
	g.bump()
	if prev != m {
		slog.Info("TRADING_MODE", slog.String("from", prev.String()), slog.String("to", m.String()))
	}
	return prev
}

// Halt forces the mode to Halted and returns the previous mode.
func (g *Gate) Halt() domain.TradingMode {
	return g.SetTradingMode(domain.Halted)
}

// Limits returns a copy of the current limits.
func (g *Gate) Limits() Limits { return g.limits.Clone() }

// SetLimit changes one named limit, see LimitNames.
func (g *Gate) SetLimit(name string, value float64) (float64, error) {
	prev, err := g.limits.Set(name, value)
	if err != nil {
		return prev, err
	}
	g.bump()
	slog.Info("LIMIT_SET", slog.String("name", name), slog.Float64("prev", prev), slog.Float64("value", value))
	return prev, nil
}

// Breakers returns the circuit breaker set.
func (g *Gate) Breakers() *Breakers { return g.breakers }

// ResetBreaker closes the breaker for inst and returns the previously open set.
func (g *Gate) ResetBreaker(inst domain.Instrument) []domain.Instrument {
	g.bump()
	return g.breakers.Reset(inst)
}

// ResetAllBreakers closes every breaker and returns the previously open set.
func (g *Gate) ResetAllBreakers() []domain.Instrument {
	g.bump()
	return g.breakers.ResetAll()
}

// LoadMag adds rounds to the magazine and returns the new count.
func (g *Gate) LoadMag(rounds int) int {
	g.bump()
	return g.mag.load(rounds)
}

// EmptyMag empties the magazine and returns the rounds that were left.
func (g *Gate) EmptyMag() int {
	g.bump()
	return g.mag.empty()
}

// Rounds returns the entries left in the magazine.
func (g *Gate) Rounds() int { return g.mag.rounds }

// SentOrder records an entry attempt on inst at sentTime and spends a round.
func (g *Gate) SentOrder(inst domain.Instrument, sentTime time.Time) int {
	g.lastEntry[inst] = sentTime
	return g.mag.fire()
}

// LastEntry returns the time of the last entry attempt on inst.
func (g *Gate) LastEntry(inst domain.Instrument) time.Time {
	if t, ok := g.lastEntry[inst]; ok {
		return t
	}
	return g.start.Add(-initialEntryAge)
}

// Snapshot returns a copy of the gate's state.
func (g *Gate) Snapshot() Snapshot {
	return Snapshot{
		Mode:     g.mode,
		Rounds:   g.mag.rounds,
		Breakers: g.breakers.Tripped(),
		Limits:   g.Limits(),
	}
}

// PreTradeApproved runs the admission checks in order and returns the first
// that fails.
func (g *Gate) PreTradeApproved(inst domain.Instrument, a strategy.Analysis, ledgers LedgerView,
	queues []event.HealthReporter, now time.Time) Decision {
	if g.mode == domain.Halted {
		return TradingHalted
	}
	if g.breakers.IsTripped(inst) {
		return CircuitBreaker
	}
	if !g.mag.available() {
		return MagEmpty
	}
	for _, q := range queues {
		if !q.Healthy() {
			return UnhealthyQueue
		}
	}
	if total := ledgers.SumPnls(nil); total.NetPnl < -g.limits.MaxLoss {
		return MaxLoss
	}
	if ledgers.FillableFor(inst) >= g.limits.MaxEntriesPerPair {
		return PairConcurrentEntries
	}
	if ledgers.AllFillableCount() >= g.limits.MaxEntries {
		return SystemConcurrentEntries
	}
	if now.Sub(g.LastEntry(inst)) < g.limits.Backoff {
		return BackoffInterval
	}
	if !a.Crossed() || a.TheoVal < g.limits.MinTheoVal {
		if now.Sub(g.lastSkipLog[inst]) > skipLogInterval {
			slog.Info("SKIP_TRADE_THEO_VAL",
				slog.String("instrument", inst.String()),
				slog.Float64("theo_val", a.TheoVal),
				slog.Float64("min_theo_val", g.limits.MinTheoVal))
			g.lastSkipLog[inst] = now
		}
		return TradeTheoVal
	}
	bidPx, askPx := a.Bids[0].Px(), a.Asks[0].Px()
	if (bidPx-askPx)/askPx > g.limits.MaxCrossRatio {
		return CrossRatio
	}
	return Approved
}

// UpdatedMktData trips the breaker for a book with an empty side or a cross
// too wide to be real.
func (g *Gate) UpdatedMktData(b *book.Book) {
	bestBid, okBid := b.Best(domain.Buy)
	bestAsk, okAsk := b.Best(domain.Sell)
	if !okBid || !okAsk {
		g.breakers.Trip(b.Instrument, breakerEmptySide)
		return
	}
	if bestBid.Px > (1+g.limits.BadDataCrossRatio)*bestAsk.Px {
		g.breakers.Trip(b.Instrument, breakerBadData)
	}
}

// UpdatedLedger trips the breaker when the net position exceeds its caps.
// A newly rejected order trips the breaker and halts all trading.
func (g *Gate) UpdatedLedger(l LedgerState) {
	inst := l.Instrument()
	pnl := l.Pnl()

	var netQty, avgPx float64
	switch {
	case pnl.BotQty > pnl.SldQty:
		netQty = pnl.BotQty - pnl.SldQty
		avgPx = pnl.BotVal / pnl.BotQty
	case pnl.SldQty > pnl.BotQty:
		netQty = pnl.SldQty - pnl.BotQty
		avgPx = pnl.SldVal / pnl.SldQty
	}

	if netQty > 0 {
		if netQty*avgPx > g.limits.PosNotional {
			g.breakers.Trip(inst, breakerPosVal)
			return
		}
		if netQty > g.limits.PosQtyLimit(inst.Base) {
			g.breakers.Trip(inst, breakerPosQty)
			return
		}
	}

	if rejected := l.RejectedCount(); rejected > g.rejectedSeen[inst] {
		g.rejectedSeen[inst] = rejected
		g.breakers.Trip(inst, breakerRejected)
		g.Halt()
	}
}

// RiskAdjustOrders shrinks a matched pair to the per-entry notional and
// quantity caps. Both legs always end with the same quantity, never larger
// than they came in.
func (g *Gate) RiskAdjustOrders(inst domain.Instrument, orders domain.CxOrders, c domain.Constraints) (domain.CxOrders, error) {
	if g.limits.MaxEntriesPerPair != 1 {
		return orders, fmt.Errorf("risk adjust with max_entries_per_pair=%d: %w", g.limits.MaxEntriesPerPair, ErrUnsupportedPerPair)
	}

	sell := orders.Sell
	qty := sell.Qty
	adjusted := false
	if sell.Qty*sell.Px > g.limits.TradeNotional {
		qty = g.limits.TradeNotional / sell.Px
		adjusted = true
	}
	if maxQty := g.limits.TradeQtyLimit(inst.Base); qty > maxQty {
		qty = maxQty
		adjusted = true
	}
	if !adjusted {
		return orders, nil
	}

	qty = min(quant.RoundDown(qty, c.QtyDecimals), sell.Qty)
	return domain.CxOrders{
		Buy:  orders.Buy.WithQty(qty),
		Sell: sell.WithQty(qty),
	}, nil
}
