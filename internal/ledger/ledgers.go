package ledger

import (
	"fmt"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/metrics"
)

// Ledgers holds one Ledger per traded instrument. The set is fixed at
// construction so Pnls may be called from any goroutine.
type Ledgers struct {
	byInst map[domain.Instrument]*Ledger
	insts  []domain.Instrument
}

// NewLedgers indexes ledgers by instrument. A later duplicate replaces an
// earlier one.
func NewLedgers(ledgers ...*Ledger) *Ledgers {
	ls := &Ledgers{byInst: make(map[domain.Instrument]*Ledger, len(ledgers))}
	for _, l := range ledgers {
		if _, dup := ls.byInst[l.inst]; !dup {
			ls.insts = append(ls.insts, l.inst)
		}
		ls.byInst[l.inst] = l
	}
	return ls
}

// Get returns the ledger for inst.
func (ls *Ledgers) Get(inst domain.Instrument) (*Ledger, bool) {
	l, ok := ls.byInst[inst]
	return l, ok
}

// Instruments returns the instruments in construction order.
func (ls *Ledgers) Instruments() []domain.Instrument {
	return append([]domain.Instrument(nil), ls.insts...)
}

// HandleExecReport routes a report to its instrument's ledger. Reports that
// cannot be applied are counted and returned as errors.
func (ls *Ledgers) HandleExecReport(er *event.ExecReport) (*Ledger, event.ExecType, error) {
	l, ok := ls.byInst[er.Instrument]
	if !ok {
		metrics.ExecReportsDropped.WithLabelValues(er.Instrument.String()).Inc()
		return nil, er.ExecType, fmt.Errorf("report %s: %w: %s", er.ExecID, ErrUnknownInstrument, er.Instrument)
	}
	execType, err := l.HandleExecReport(er)
	if err != nil {
		metrics.ExecReportsDropped.WithLabelValues(er.Instrument.String()).Inc()
	}
	return l, execType, err
}

// SumPnls adds the live PnL of every ledger matching pred. A nil pred
// matches all.
func (ls *Ledgers) SumPnls(pred func(domain.Instrument) bool) domain.Pnl {
	pnls := make([]domain.Pnl, 0, len(ls.insts))
	for _, inst := range ls.insts {
		if pred == nil || pred(inst) {
			pnls = append(pnls, ls.byInst[inst].Pnl())
		}
	}
	return domain.SumPnls(pnls...)
}

// FillableFor is the number of working orders on inst.
func (ls *Ledgers) FillableFor(inst domain.Instrument) int {
	if l, ok := ls.byInst[inst]; ok {
		return l.FillableCount()
	}
	return 0
}

// AllFillableCount is the number of working orders across all instruments.
func (ls *Ledgers) AllFillableCount() int {
	n := 0
	for _, l := range ls.byInst {
		n += l.FillableCount()
	}
	return n
}

// StartNewReplay zeroes the replay PnL of every ledger.
func (ls *Ledgers) StartNewReplay() {
	for _, l := range ls.byInst {
		l.StartNewReplay()
	}
}

// Pnls returns the live PnL per instrument.
func (ls *Ledgers) Pnls() map[domain.Instrument]domain.Pnl {
	out := make(map[domain.Instrument]domain.Pnl, len(ls.byInst))
	for inst, l := range ls.byInst {
		out[inst] = l.Pnl()
	}
	return out
}

// ReplayPnls returns the replay scratch PnL per instrument.
func (ls *Ledgers) ReplayPnls() map[domain.Instrument]domain.Pnl {
	out := make(map[domain.Instrument]domain.Pnl, len(ls.byInst))
	for inst, l := range ls.byInst {
		out[inst] = l.ReplayPnl()
	}
	return out
}

// NonflatPnls returns the live PnL of instruments holding a position.
func (ls *Ledgers) NonflatPnls() map[domain.Instrument]domain.Pnl {
	out := make(map[domain.Instrument]domain.Pnl)
	for inst, l := range ls.byInst {
		if p := l.Pnl(); !p.IsFlat(l.flatTolerance) {
			out[inst] = p
		}
	}
	return out
}
