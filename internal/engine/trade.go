package engine

import (
	"context"
	"log/slog"
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/ledger"
	"cross_arb/internal/metrics"
	"cross_arb/internal/risk"
	"cross_arb/internal/strategy"
)

// trade runs the entry pipeline for inst after its book or ledger changed.
func (t *Trader) trade(ctx context.Context, inst domain.Instrument, b *book.Book, l *ledger.Ledger, now time.Time) {
	if b == nil || l == nil {
		return
	}
	if _, ok := t.active[inst]; !ok {
		return
	}
	c := t.constraints[inst]

	a := t.strat.Analyze(b, c.MinSigQty)
	if !a.Crossed() {
		return
	}

	t.expireDryRunOrders(inst, l, now)

	decision := t.gate.PreTradeApproved(inst, a, t.ledgers, t.queues, now)
	metrics.GateDecisions.WithLabelValues(decision.String()).Inc()
	if decision != risk.Approved {
		if now.Sub(t.lastRiskLog) > t.cfg.RiskLogInterval {
			t.lastRiskLog = now
			slog.Info("ENTRY_BLOCKED",
				slog.String("instrument", inst.String()),
				slog.String("decision", decision.String()),
				slog.Float64("theo_val", a.TheoVal))
		}
		return
	}

	limits := t.gate.Limits()
	planned, ok := t.strat.Plan(inst, a, c, strategy.SizeLimits{
		MaxQty:      limits.TradeQtyLimit(inst.Base),
		MaxNotional: limits.TradeNotional,
	}, now)
	if !ok {
		return
	}

	orders, err := t.gate.RiskAdjustOrders(inst, planned, c)
	if err != nil {
		slog.Error("RISK_ADJUST_FAILED", slog.String("instrument", inst.String()), slog.String("err", err.Error()))
		return
	}
	if orders != planned {
		slog.Warn("ORDERS_RISK_ADJUSTED",
			slog.String("instrument", inst.String()),
			slog.Float64("planned_qty", planned.Buy.Qty),
			slog.Float64("qty", orders.Buy.Qty))
	}

	mode := t.gate.Mode()
	if !t.enter(ctx, inst, orders.Buy, mode, now) {
		return
	}
	t.track(l, orders.Buy)

	if !t.enter(ctx, inst, orders.Sell, mode, now) {
		slog.Error("BUY_WITHOUT_SELL",
			slog.String("buy", orders.Buy.String()),
			slog.String("failed_sell", orders.Sell.String()))
		return
	}
	t.track(l, orders.Sell)
	t.entries.LogEntry(orders, a, b, t.cfg.Fees, c.MinSigQty)
}

// enter sends one leg in the current mode. Every attempt spends a round and
// restarts the backoff clock, whether or not the send succeeded.
func (t *Trader) enter(ctx context.Context, inst domain.Instrument, o domain.Order, mode domain.TradingMode, now time.Time) bool {
	switch mode {
	case domain.Live:
		err := t.send(ctx, o)
		t.gate.SentOrder(inst, now)
		if err != nil {
			metrics.OrderSendFailures.WithLabelValues(o.Side.String()).Inc()
			slog.Error("ORDER_SEND_FAILED", slog.String("order", o.String()), slog.String("err", err.Error()))
			return false
		}
	case domain.DryRun:
		t.dryRun[o.ID] = o
		t.gate.SentOrder(inst, now)
	default:
		slog.Error("ENTRY_IN_MODE", slog.String("mode", mode.String()), slog.String("order", o.String()))
		return false
	}
	metrics.OrdersSent.WithLabelValues(o.Side.String(), mode.String()).Inc()
	t.entries.LogOrder(o, mode)
	return true
}

func (t *Trader) track(l *ledger.Ledger, o domain.Order) {
	if err := l.AddPendingNew(o); err != nil {
		slog.Error("ORDER_UNTRACKED", slog.String("order", o.String()), slog.String("err", err.Error()))
	}
}

// expireDryRunOrders cancels locally the dry-run orders of inst older than
// the expiry, so they stop counting as open entries.
func (t *Trader) expireDryRunOrders(inst domain.Instrument, l *ledger.Ledger, now time.Time) {
	for id, o := range t.dryRun {
		if o.Instrument != inst || !now.After(o.SentTime.Add(t.cfg.DryRunExpiry)) {
			continue
		}
		if err := l.ForceCancel(o); err != nil {
			slog.Warn("DRY_RUN_EXPIRE_FAILED", slog.String("order", o.String()), slog.String("err", err.Error()))
		}
		delete(t.dryRun, id)
	}
}
