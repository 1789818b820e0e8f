package engine

import (
	"log/slog"
	"slices"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/risk"
	"cross_arb/internal/storage"
	"cross_arb/internal/strategy"
)

// State is the post-mortem view of the loop's private state.
type State struct {
	LastSeq    uint64                               `json:"last_seq"`
	Gate       risk.Snapshot                        `json:"gate"`
	Subscribed []domain.Instrument                  `json:"subscribed"`
	Active     []domain.Instrument                  `json:"active"`
	Fillable   map[domain.Instrument][]string       `json:"fillable"`
	Rejected   map[domain.Instrument][]string       `json:"rejected"`
	DryRun     []string                             `json:"dry_run_orders"`
	Queues     []event.QueueStats                   `json:"queues"`
	TheoPnl    strategy.TheoPnl                     `json:"theo_pnl"`
	Books      map[domain.Instrument]map[string]int `json:"book_depth"`
	Nonflat    map[domain.Instrument]domain.Pnl     `json:"nonflat"`
}

// State captures the loop's state. Call from the loop goroutine only.
func (t *Trader) State() State {
	s := State{
		LastSeq:    t.lastSeq,
		Gate:       t.gate.Snapshot(),
		Subscribed: sortedKeys(t.subscribed),
		Active:     sortedKeys(t.active),
		Fillable:   make(map[domain.Instrument][]string),
		Rejected:   make(map[domain.Instrument][]string),
		Queues:     t.queueStats(),
		TheoPnl:    t.entries.Cumulative(),
		Books:      make(map[domain.Instrument]map[string]int),
		Nonflat:    t.ledgers.NonflatPnls(),
	}
	for _, inst := range t.ledgers.Instruments() {
		l, _ := t.ledgers.Get(inst)
		for _, id := range l.Fillable() {
			s.Fillable[inst] = append(s.Fillable[inst], id.String())
		}
		for _, id := range l.Rejected() {
			s.Rejected[inst] = append(s.Rejected[inst], id.String())
		}
		if b := t.books.Get(inst); b != nil {
			s.Books[inst] = map[string]int{
				"bids": len(b.Get(domain.Buy)),
				"asks": len(b.Get(domain.Sell)),
			}
		}
	}
	for _, o := range t.dryRun {
		s.DryRun = append(s.DryRun, o.String())
	}
	slices.Sort(s.DryRun)
	return s
}

// DumpState writes a snapshot of PnL and loop state for post-mortem. Without
// a snapshot directory the state is logged instead.
func (t *Trader) DumpState(reason string) {
	state := t.State()
	if t.cfg.Snapshots == nil {
		slog.Error("STATE_DUMP", slog.String("reason", reason), slog.Any("state", state))
		return
	}

	snap, err := storage.NewSnapshot(t.lastSeq, reason, t.ledgers.Pnls(), t.ledgers.ReplayPnls(), state)
	if err != nil {
		slog.Error("STATE_DUMP_FAILED", slog.String("reason", reason), slog.String("err", err.Error()))
		return
	}
	path, err := t.cfg.Snapshots.Save(snap)
	if err != nil {
		slog.Error("STATE_DUMP_FAILED", slog.String("reason", reason), slog.String("err", err.Error()))
		return
	}
	slog.Info("STATE_DUMPED", slog.String("reason", reason), slog.String("path", path))

	if t.cfg.KeepSnapshots > 0 {
		if err := t.cfg.Snapshots.Cleanup(t.cfg.KeepSnapshots); err != nil {
			slog.Warn("SNAPSHOT_CLEANUP_FAILED", slog.String("err", err.Error()))
		}
	}
}
