package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
)

// TheoPnl is the theoretical PnL of an entry had both legs filled against the
// crossed levels it was planned from.
type TheoPnl struct {
	Net   float64 `json:"net"`
	Gross float64 `json:"gross"`
	Fees  float64 `json:"fees"`
}

func (p TheoPnl) add(o TheoPnl) TheoPnl {
	return TheoPnl{Net: p.Net + o.Net, Gross: p.Gross + o.Gross, Fees: p.Fees + o.Fees}
}

// EntryLogger records each entry with its theoretical PnL and keeps a
// cumulative total. Owned by the dispatch loop.
type EntryLogger struct {
	cum TheoPnl
}

// NewEntryLogger creates a logger with a zero cumulative total.
func NewEntryLogger() *EntryLogger {
	return &EntryLogger{}
}

// Cumulative returns the theoretical PnL of every entry logged so far.
func (l *EntryLogger) Cumulative() TheoPnl { return l.cum }

// LogOrder records one leg as sent.
func (l *EntryLogger) LogOrder(o domain.Order, mode domain.TradingMode) {
	slog.Info("ENTRY_ORDER",
		slog.String("mode", mode.String()),
		slog.String("order", o.String()))
}

// LogEntry prices both legs against the crossed levels they can fill at and
// adds the result to the cumulative total.
func (l *EntryLogger) LogEntry(orders domain.CxOrders, a Analysis, b *book.Book, fees domain.Fees, minSigQty float64) TheoPnl {
	botQty, botVal, asks := fillAgainst(a.Asks, orders.Buy.Qty, minSigQty, func(px float64) bool {
		return orders.Buy.Px < px
	})
	sldQty, sldVal, bids := fillAgainst(a.Bids, orders.Sell.Qty, minSigQty, func(px float64) bool {
		return orders.Sell.Px > px
	})

	feesChg := fees.FeesChg(botQty+sldQty, botVal+sldVal)
	gross := sldVal - botVal
	entry := TheoPnl{Net: gross - feesChg, Gross: gross, Fees: feesChg}
	l.cum = l.cum.add(entry)

	slog.Info("ENTRY_THEO_PNL",
		slog.String("instrument", orders.Buy.Instrument.String()),
		slog.Float64("net", round4(entry.Net)),
		slog.Float64("gross", round4(entry.Gross)),
		slog.Float64("fees", round4(entry.Fees)),
		slog.Float64("cum_net", round4(l.cum.Net)),
		slog.Float64("cum_gross", round4(l.cum.Gross)),
		slog.Float64("cum_fees", round4(l.cum.Fees)),
		slog.String("bids", bids),
		slog.String("asks", asks))
	if b != nil {
		slog.Debug("ENTRY_BOOK", slog.String("book", b.Print(2)))
	}
	return entry
}

// fillAgainst walks levels until the order price no longer reaches them or
// the remaining quantity is dust.
func fillAgainst(levels []Contribution, qty, minSigQty float64, beyondLimit func(px float64) bool) (filled, val float64, desc string) {
	var sb strings.Builder
	sb.WriteByte('[')
	for _, lvl := range levels {
		px := lvl.Px()
		if beyondLimit(px) {
			break
		}
		use := math.Min(lvl.Qty, qty)
		filled += use
		val += use * px
		qty -= use
		fmt.Fprintf(&sb, "%.8g @ %.8g, ", use, px)
		if qty < minSigQty {
			break
		}
	}
	sb.WriteByte(']')
	return filled, val, sb.String()
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
