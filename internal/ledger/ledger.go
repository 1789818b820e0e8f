// Package ledger tracks order lifecycles and realized PnL per instrument.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/metrics"
	"cross_arb/internal/orderid"
)

var (
	ErrUnknownOrder        = errors.New("unknown order")
	ErrUnknownInstrument   = errors.New("no ledger for instrument")
	ErrInstrumentMismatch  = errors.New("instrument mismatch")
	ErrTerminalOrder       = errors.New("order already terminal")
	ErrUnsupportedExecType = errors.New("unsupported exec type")
	ErrInvalidSide         = errors.New("invalid side")
	ErrNotCancelable       = errors.New("order not cancelable")
)

// Ledger is the order book-keeping for one instrument. All mutation happens
// on the dispatch goroutine; Pnl and ReplayPnl may be read from anywhere.
type Ledger struct {
	inst          domain.Instrument
	constraints   domain.Constraints
	fees          domain.Fees
	flatTolerance float64

	orders   map[orderid.ClOrdID]domain.OrderState
	fillable map[orderid.ClOrdID]struct{}
	rejected map[orderid.ClOrdID]struct{}

	pnl       atomic.Pointer[domain.Pnl]
	replayPnl atomic.Pointer[domain.Pnl]
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFlatTolerance sets how close bought and sold quantity must be for the
// position to count as flat. Defaults to the minimum order quantity.
func WithFlatTolerance(tol float64) Option {
	return func(l *Ledger) { l.flatTolerance = tol }
}

// New creates an empty ledger. A nil fees means no fees.
func New(inst domain.Instrument, c domain.Constraints, fees domain.Fees, opts ...Option) *Ledger {
	if fees == nil {
		fees = domain.ZeroFees{}
	}
	l := &Ledger{
		inst:          inst,
		constraints:   c,
		fees:          fees,
		flatTolerance: c.MinOrderQty,
		orders:        make(map[orderid.ClOrdID]domain.OrderState, 1024),
		fillable:      make(map[orderid.ClOrdID]struct{}, 16),
		rejected:      make(map[orderid.ClOrdID]struct{}, 16),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pnl.Store(&domain.Pnl{})
	l.replayPnl.Store(&domain.Pnl{})
	return l
}

func (l *Ledger) Instrument() domain.Instrument   { return l.inst }
func (l *Ledger) Constraints() domain.Constraints { return l.constraints }
func (l *Ledger) FlatTolerance() float64          { return l.flatTolerance }

// Pnl returns the live realized PnL.
func (l *Ledger) Pnl() domain.Pnl { return *l.pnl.Load() }

// ReplayPnl returns the PnL accumulated from duplicate reports since the
// last StartNewReplay.
func (l *Ledger) ReplayPnl() domain.Pnl { return *l.replayPnl.Load() }

// StartNewReplay zeroes the replay scratch PnL.
func (l *Ledger) StartNewReplay() {
	l.replayPnl.Store(&domain.Pnl{})
}

// FillableCount is the number of working orders.
func (l *Ledger) FillableCount() int { return len(l.fillable) }

// RejectedCount is the number of orders the venue has rejected.
func (l *Ledger) RejectedCount() int { return len(l.rejected) }

// Fillable returns the working order ids in string order.
func (l *Ledger) Fillable() []orderid.ClOrdID { return sortedIDs(l.fillable) }

// Rejected returns the rejected order ids in string order.
func (l *Ledger) Rejected() []orderid.ClOrdID { return sortedIDs(l.rejected) }

// Order returns the tracked state of id.
func (l *Ledger) Order(id orderid.ClOrdID) (domain.OrderState, bool) {
	s, ok := l.orders[id]
	return s, ok
}

// AddPendingNew starts tracking a submitted order as fillable.
func (l *Ledger) AddPendingNew(o domain.Order) error {
	if o.Instrument != l.inst {
		return fmt.Errorf("add %s to %s ledger: %w", o, l.inst, ErrInstrumentMismatch)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("add %s: %w", o, ErrInvalidSide)
	}
	l.orders[o.ID] = domain.PendingNewOrder(o)
	l.fillable[o.ID] = struct{}{}
	return nil
}

// HandleExecReport applies a report to the order it references. Duplicate
// reports only feed the replay PnL. On error the report is not applied.
func (l *Ledger) HandleExecReport(er *event.ExecReport) (event.ExecType, error) {
	if er.PossDup {
		return er.ExecType, l.handleReplay(er)
	}
	if er.Instrument != l.inst {
		return er.ExecType, fmt.Errorf("report %s for %s on %s ledger: %w", er.ExecID, er.Instrument, l.inst, ErrInstrumentMismatch)
	}

	id := er.ClOrdID
	if er.ExecType == event.ExecCanceled && er.OrigClOrdID != nil {
		id = er.OrigClOrdID
	}
	state, ok := l.orders[id]
	if !ok {
		return er.ExecType, fmt.Errorf("report %s for %v: %w", er.ExecID, id, ErrUnknownOrder)
	}
	if state.Status.IsTerminal() {
		return er.ExecType, fmt.Errorf("report %s %s for %v in %s: %w", er.ExecID, er.ExecType, id, state.Status, ErrTerminalOrder)
	}

	switch er.ExecType {
	case event.ExecNew:
		if state.Status != domain.PendingNew {
			slog.Warn("UNEXPECTED_ORDER_NEW",
				slog.String("cl_ord_id", id.String()),
				slog.String("status", state.Status.String()))
		}
		l.orders[id] = state.WithStatus(domain.New)

	case event.ExecPartialFill, event.ExecFill:
		valChg := er.LastQty * er.LastPx
		feesChg := l.fees.FeesChg(er.LastQty, valChg)
		next := l.Pnl().WithChange(state.Order.Side, feesChg, er.LastQty, valChg, l.flatTolerance)
		l.pnl.Store(&next)

		status := domain.PartiallyFilled
		if er.ExecType == event.ExecFill {
			status = domain.Filled
			delete(l.fillable, id)
		}
		l.orders[id] = state.WithStatusAndFill(status, domain.Fill{CumQty: er.CumQty, AvgPx: er.AvgPx})

		metrics.NetPnl.WithLabelValues(l.inst.String()).Set(next.NetPnl)
		slog.Info("FILL",
			slog.String("instrument", l.inst.String()),
			slog.String("cl_ord_id", id.String()),
			slog.String("side", state.Order.Side.String()),
			slog.Float64("last_qty", er.LastQty),
			slog.Float64("last_px", er.LastPx),
			slog.String("pnl", next.String()))

	case event.ExecPendingCancel:
		l.orders[id] = state.WithStatus(domain.PendingCancel)

	case event.ExecCanceled:
		l.orders[id] = state.WithStatus(domain.Canceled)
		delete(l.fillable, id)

	case event.ExecRejected:
		l.orders[id] = state.WithStatus(domain.Rejected)
		delete(l.fillable, id)
		l.rejected[id] = struct{}{}
		slog.Error("ORDER_REJECTED",
			slog.String("instrument", l.inst.String()),
			slog.String("cl_ord_id", id.String()),
			slog.String("text", er.Text))

	default:
		return er.ExecType, fmt.Errorf("report %s: %w: %s", er.ExecID, ErrUnsupportedExecType, er.ExecType)
	}
	return er.ExecType, nil
}

func (l *Ledger) handleReplay(er *event.ExecReport) error {
	if er.ExecType != event.ExecPartialFill && er.ExecType != event.ExecFill {
		return nil
	}
	if !er.Side.Valid() {
		return fmt.Errorf("replayed report %s side %s: %w", er.ExecID, er.Side, ErrInvalidSide)
	}
	valChg := er.LastQty * er.LastPx
	feesChg := l.fees.FeesChg(er.LastQty, valChg)
	next := l.ReplayPnl().WithChange(er.Side, feesChg, er.LastQty, valChg, l.flatTolerance)
	l.replayPnl.Store(&next)
	slog.Info("REPLAYED_FILL",
		slog.String("instrument", l.inst.String()),
		slog.String("exec_id", er.ExecID),
		slog.Float64("last_qty", er.LastQty),
		slog.Float64("last_px", er.LastPx),
		slog.String("replay_pnl", next.String()))
	return nil
}

// Cancelable returns the state of id if a cancel request may be sent for it.
func (l *Ledger) Cancelable(id orderid.ClOrdID) (domain.OrderState, error) {
	state, ok := l.orders[id]
	if !ok {
		return state, fmt.Errorf("cancel %v: %w", id, ErrUnknownOrder)
	}
	if state.Status.IsTerminal() {
		return state, fmt.Errorf("cancel %v in %s: %w", id, state.Status, ErrTerminalOrder)
	}
	if !state.Status.CanCancel() {
		return state, fmt.Errorf("cancel %v in %s: %w", id, state.Status, ErrNotCancelable)
	}
	return state, nil
}

// HandleCancelRequest marks a working order as pending cancel. Only New and
// PartiallyFilled orders may be canceled.
func (l *Ledger) HandleCancelRequest(o domain.Order) error {
	if o.Instrument != l.inst {
		return fmt.Errorf("cancel %s on %s ledger: %w", o, l.inst, ErrInstrumentMismatch)
	}
	state, err := l.Cancelable(o.ID)
	if err != nil {
		return err
	}
	l.orders[o.ID] = state.WithStatus(domain.PendingCancel)
	return nil
}

// ForceCancel cancels an order locally without a venue report.
func (l *Ledger) ForceCancel(o domain.Order) error {
	if o.Instrument != l.inst {
		return fmt.Errorf("force cancel %s on %s ledger: %w", o, l.inst, ErrInstrumentMismatch)
	}
	state, ok := l.orders[o.ID]
	if !ok {
		return fmt.Errorf("force cancel %v: %w", o.ID, ErrUnknownOrder)
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("force cancel %v in %s: %w", o.ID, state.Status, ErrTerminalOrder)
	}
	l.orders[o.ID] = state.WithStatus(domain.Canceled)
	delete(l.fillable, o.ID)
	return nil
}

func sortedIDs(set map[orderid.ClOrdID]struct{}) []orderid.ClOrdID {
	ids := make([]orderid.ClOrdID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
