package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/orderid"
	"cross_arb/internal/storage"
	"cross_arb/pkg/quant"

	"github.com/google/uuid"
)

const qtyEpsilon = 1e-9

type paperBook struct {
	bids []event.Level // best first
	asks []event.Level // best first
}

type restingOrder struct {
	order  domain.Order
	cumQty float64
	cumVal float64
}

func (r *restingOrder) remaining() float64 { return r.order.Qty - r.cumQty }

// PaperVenue simulates an execution venue against the latest market data.
// Orders fill at the resting level prices of the last snapshot seen, and the
// consumed liquidity stays consumed until the next snapshot. IOC remainders
// are canceled, FOK orders fill completely or not at all, and DAY/GTC
// remainders rest until a later snapshot crosses them or they are canceled.
// Reports are journaled and answer resend requests as possible duplicates.
type PaperVenue struct {
	mu       sync.Mutex
	sink     EventSink
	journal  Journal
	loggedOn bool
	seq      uint64

	books   map[domain.Instrument]*paperBook
	resting map[orderid.ClOrdID]*restingOrder
	history []event.Event // used without a journal
}

// NewPaperVenue creates a logged-off venue that reports to sink. journal may
// be nil, in which case reports are kept in memory for resends.
func NewPaperVenue(sink EventSink, journal Journal) *PaperVenue {
	return &PaperVenue{
		sink:    sink,
		journal: journal,
		books:   make(map[domain.Instrument]*paperBook),
		resting: make(map[orderid.ClOrdID]*restingOrder),
	}
}

// Resume continues the report sequence after lastSeq, usually the last
// sequence found in the journal.
func (p *PaperVenue) Resume(lastSeq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lastSeq > p.seq {
		p.seq = lastSeq
	}
}

func (p *PaperVenue) LoggedOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedOn
}

func (p *PaperVenue) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedOn = true
	slog.Info("PAPER_VENUE_LOGON", slog.Uint64("seq", p.seq))
	return nil
}

// Stop logs the session out and reports it to the sink.
func (p *PaperVenue) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loggedOn {
		return
	}
	p.loggedOn = false
	p.sink.Offer(&event.SessionStatus{
		BaseEvent: event.BaseEvent{RecvTime: time.Now()},
		Source:    event.SourceExec,
		Status:    "LOGGED_OUT",
		Text:      "paper venue stopped",
	})
}

// OnMarketData replaces the venue's copy of the book and matches resting
// orders against it. Duplicate snapshots are ignored.
func (p *PaperVenue) OnMarketData(ctx context.Context, md *event.MarketData) {
	if md.PossDup {
		return
	}
	pb := &paperBook{}
	for _, lvl := range md.Levels {
		if lvl.Qty <= 0 {
			continue
		}
		switch lvl.Side {
		case domain.Buy:
			pb.bids = append(pb.bids, lvl)
		case domain.Sell:
			pb.asks = append(pb.asks, lvl)
		}
	}
	sort.SliceStable(pb.bids, func(i, j int) bool { return pb.bids[i].Px > pb.bids[j].Px })
	sort.SliceStable(pb.asks, func(i, j int) bool { return pb.asks[i].Px < pb.asks[j].Px })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[md.Instrument] = pb
	if !p.loggedOn {
		return
	}
	for id, ro := range p.resting {
		if ro.order.Instrument != md.Instrument {
			continue
		}
		p.match(ctx, pb, ro)
		if ro.remaining() <= qtyEpsilon {
			delete(p.resting, id)
		}
	}
}

func (p *PaperVenue) SendNewOrder(ctx context.Context, o domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loggedOn {
		return ErrNoSession
	}
	if o.ID == nil {
		return fmt.Errorf("order %s: %w: cl_ord_id", o, ErrMissingMapping)
	}
	if o.Side != domain.Buy && o.Side != domain.Sell {
		return fmt.Errorf("order %s: %w: side", o, ErrMissingMapping)
	}

	if o.Qty <= 0 || o.Px <= 0 {
		p.emit(ctx, p.report(o, event.ExecRejected, "invalid qty or px"))
		return nil
	}
	pb, ok := p.books[o.Instrument]
	if !ok {
		p.emit(ctx, p.report(o, event.ExecRejected, "no market"))
		return nil
	}

	p.emit(ctx, p.report(o, event.ExecNew, ""))
	ro := &restingOrder{order: o}

	if o.TIF == domain.FOK && available(pb, o) < o.Qty-qtyEpsilon {
		p.emit(ctx, p.canceled(ro, "fill or kill"))
		return nil
	}
	p.match(ctx, pb, ro)

	if ro.remaining() > qtyEpsilon {
		switch o.TIF {
		case domain.IOC, domain.FOK:
			p.emit(ctx, p.canceled(ro, "immediate or cancel"))
		default:
			p.resting[o.ID] = ro
		}
	}
	return nil
}

func (p *PaperVenue) SendCancel(ctx context.Context, o domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loggedOn {
		return ErrNoSession
	}
	ro, ok := p.resting[o.ID]
	if !ok {
		slog.Warn("PAPER_CANCEL_REJECT",
			slog.String("order", o.String()),
			slog.String("reason", "not working"))
		return nil
	}
	delete(p.resting, o.ID)
	p.emit(ctx, p.canceled(ro, "canceled"))
	return nil
}

func (p *PaperVenue) SendResendRequest(ctx context.Context, begin, end uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loggedOn {
		return ErrNoSession
	}

	var events []event.Event
	if p.journal != nil {
		var err error
		events, err = p.journal.LoadEvents(ctx, storage.StreamExec, begin, end)
		if err != nil {
			return fmt.Errorf("resend %d..%d: %w", begin, end, err)
		}
	} else {
		for _, ev := range p.history {
			if ev.GetSeq() >= begin && (end == 0 || ev.GetSeq() <= end) {
				events = append(events, ev)
			}
		}
	}

	dropped := 0
	for _, ev := range events {
		er, ok := ev.(*event.ExecReport)
		if !ok {
			continue
		}
		dup := *er
		dup.PossDup = true
		dup.RecvTime = time.Now()
		if !p.sink.Offer(&dup) {
			dropped++
		}
	}
	slog.Info("PAPER_RESEND",
		slog.Uint64("begin", begin),
		slog.Uint64("end", end),
		slog.Int("count", len(events)),
		slog.Int("dropped", dropped))
	return nil
}

// match fills ro against the opposite side of pb, consuming liquidity.
func (p *PaperVenue) match(ctx context.Context, pb *paperBook, ro *restingOrder) {
	levels := &pb.asks
	if ro.order.Side == domain.Sell {
		levels = &pb.bids
	}

	consumed := 0
	for i := range *levels {
		lvl := &(*levels)[i]
		if !crosses(ro.order, lvl.Px) || ro.remaining() <= qtyEpsilon {
			break
		}
		take := math.Min(lvl.Qty, ro.remaining())
		lvl.Qty -= take
		if lvl.Qty <= qtyEpsilon {
			consumed++
		}
		ro.cumQty += take
		ro.cumVal += take * lvl.Px

		execType := event.ExecPartialFill
		if ro.remaining() <= qtyEpsilon {
			execType = event.ExecFill
		}
		er := p.report(ro.order, execType, "")
		er.LastQty = take
		er.LastPx = lvl.Px
		er.CumQty = ro.cumQty
		er.AvgPx = ro.cumVal / ro.cumQty
		p.emit(ctx, er)
	}
	*levels = (*levels)[consumed:]
}

func crosses(o domain.Order, px float64) bool {
	if o.Side == domain.Buy {
		return px <= o.Px
	}
	return px >= o.Px
}

func available(pb *paperBook, o domain.Order) float64 {
	levels := pb.asks
	if o.Side == domain.Sell {
		levels = pb.bids
	}
	total := 0.0
	for _, lvl := range levels {
		if !crosses(o, lvl.Px) {
			break
		}
		total += lvl.Qty
	}
	return total
}

func (p *PaperVenue) report(o domain.Order, et event.ExecType, text string) *event.ExecReport {
	return &event.ExecReport{
		ClOrdID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		ExecType:   et,
		Text:       text,
	}
}

func (p *PaperVenue) canceled(ro *restingOrder, text string) *event.ExecReport {
	er := p.report(ro.order, event.ExecCanceled, text)
	er.ClOrdID = orderid.CancelIDFor(ro.order.ID)
	er.OrigClOrdID = ro.order.ID
	er.CumQty = ro.cumQty
	if ro.cumQty > 0 {
		er.AvgPx = ro.cumVal / ro.cumQty
	}
	return er
}

// emit stamps, journals and delivers a report. Must be called with mu held.
func (p *PaperVenue) emit(ctx context.Context, er *event.ExecReport) {
	er.Seq = quant.NextSeq(&p.seq)
	er.RecvTime = time.Now()
	er.ExecID = uuid.NewString()

	if p.journal != nil {
		if err := p.journal.SaveEvent(ctx, storage.StreamExec, er); err != nil {
			slog.Error("PAPER_JOURNAL_FAILED", slog.Uint64("seq", er.Seq), slog.Any("error", err))
		}
	} else {
		p.history = append(p.history, er)
	}

	if !p.sink.Offer(er) {
		slog.Warn("PAPER_REPORT_DROPPED",
			slog.Uint64("seq", er.Seq),
			slog.String("exec_type", er.ExecType.String()))
	}
}
