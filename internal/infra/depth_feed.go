package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/execution"
	"cross_arb/internal/storage"
	"cross_arb/pkg/quant"

	"github.com/gorilla/websocket"
)

// depthMessage is the feed's wire format. Prices and quantities arrive as
// decimal strings.
type depthMessage struct {
	Type       string      `json:"type"` // snapshot | status
	Instrument string      `json:"instrument"`
	Ts         int64       `json:"ts"` // unix millis
	Bids       [][2]string `json:"bids"`
	Asks       [][2]string `json:"asks"`
	Status     string      `json:"status"`
	Text       string      `json:"text"`
}

type subscribeMessage struct {
	Op          string   `json:"op"`
	Instruments []string `json:"instruments"`
}

// Recorder persists market data snapshots.
type Recorder interface {
	SaveEvent(ctx context.Context, stream string, ev event.Event) error
}

// SnapshotObserver is called with every parsed snapshot before it is offered.
type SnapshotObserver func(ctx context.Context, md *event.MarketData)

// DepthFeed streams full-depth snapshots over a websocket and offers them
// as event.MarketData. It implements execution.MarketDataSession.
type DepthFeed struct {
	base *BaseWSWorker
	url  string
	sink execution.EventSink

	mu        sync.Mutex
	subs      map[domain.Instrument]struct{}
	observers []SnapshotObserver
	recorder  Recorder
	started   bool
	seq       uint64

	recordGuard *CircuitBreaker
	warnLimit   *RateLimiter
	resubLimit  *RateLimiter
	suppressed  atomic.Int64
}

// NewDepthFeed creates a feed for url that offers snapshots to sink.
func NewDepthFeed(url string, sink execution.EventSink) *DepthFeed {
	f := &DepthFeed{
		url:  url,
		sink: sink,
		subs: make(map[domain.Instrument]struct{}),

		recordGuard: NewCircuitBreaker(DefaultCircuitBreakerConfig("depth_record")),
		warnLimit:   NewRateLimiter(10, 1),
		resubLimit:  NewRateLimiter(3, 0.2),
	}
	f.base = NewBaseWSWorker(f)
	return f
}

// Worker exposes the underlying connection settings.
func (f *DepthFeed) Worker() *BaseWSWorker { return f.base }

// Record journals every snapshot into the market data stream of r.
func (f *DepthFeed) Record(r Recorder) {
	f.mu.Lock()
	f.recorder = r
	f.mu.Unlock()
}

// Resume continues the snapshot sequence after lastSeq, usually the last
// sequence recorded in the market data stream.
func (f *DepthFeed) Resume(lastSeq uint64) {
	if lastSeq > atomic.LoadUint64(&f.seq) {
		atomic.StoreUint64(&f.seq, lastSeq)
	}
}

// OnSnapshot registers an observer for parsed snapshots.
func (f *DepthFeed) OnSnapshot(obs SnapshotObserver) {
	f.mu.Lock()
	f.observers = append(f.observers, obs)
	f.mu.Unlock()
}

func (f *DepthFeed) ID() string     { return "DEPTH" }
func (f *DepthFeed) GetURL() string { return f.url }

func (f *DepthFeed) LoggedOn() bool { return f.base.Connected() }

func (f *DepthFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.mu.Unlock()
	f.base.Start(ctx)
	return nil
}

func (f *DepthFeed) Stop() {
	f.mu.Lock()
	started := f.started
	f.started = false
	f.mu.Unlock()
	if started {
		f.base.Stop()
	}
}

// Subscribe adds inst to the subscription set. The set is re-sent on every
// connect, so a subscription made while disconnected is deferred, not lost.
func (f *DepthFeed) Subscribe(inst domain.Instrument) error {
	f.mu.Lock()
	f.subs[inst] = struct{}{}
	f.mu.Unlock()
	return f.send("subscribe", []domain.Instrument{inst})
}

func (f *DepthFeed) Unsubscribe(inst domain.Instrument) error {
	f.mu.Lock()
	delete(f.subs, inst)
	f.mu.Unlock()
	return f.send("unsubscribe", []domain.Instrument{inst})
}

// Subscribed returns the current subscription set sorted by name.
func (f *DepthFeed) Subscribed() []domain.Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Instrument, 0, len(f.subs))
	for inst := range f.subs {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b domain.Instrument) int {
		if a.String() < b.String() {
			return -1
		}
		if a.String() > b.String() {
			return 1
		}
		return 0
	})
	return out
}

func (f *DepthFeed) send(op string, insts []domain.Instrument) error {
	if !f.base.Connected() {
		return nil
	}
	b, err := subscribePayload(op, insts)
	if err != nil {
		return err
	}
	return f.base.Write(websocket.TextMessage, b)
}

func subscribePayload(op string, insts []domain.Instrument) ([]byte, error) {
	names := make([]string, len(insts))
	for i, inst := range insts {
		names[i] = inst.String()
	}
	return json.Marshal(subscribeMessage{Op: op, Instruments: names})
}

// OnConnect re-sends the full subscription set. Resubscriptions are paced by
// resubLimit so a flapping connection does not flood the venue.
func (f *DepthFeed) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	subs := f.Subscribed()
	if len(subs) == 0 {
		return nil
	}
	if err := f.resubLimit.Wait(ctx); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	b, err := subscribePayload("subscribe", subs)
	if err != nil {
		return err
	}
	return f.base.Write(websocket.TextMessage, b)
}

func (f *DepthFeed) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return f.base.Write(websocket.PingMessage, nil)
}

// OnDisconnect reports the lost session to the sink.
func (f *DepthFeed) OnDisconnect(ctx context.Context, err error) {
	f.offer(&event.SessionStatus{
		BaseEvent: event.BaseEvent{Seq: quant.NextSeq(&f.seq), RecvTime: time.Now()},
		Source:    event.SourceMarketData,
		Status:    "DISCONNECTED",
		Text:      err.Error(),
	})
}

func (f *DepthFeed) OnMessage(ctx context.Context, msg []byte) {
	var m depthMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		f.warn("DEPTH_BAD_MESSAGE", slog.String("err", err.Error()))
		return
	}

	switch m.Type {
	case "snapshot":
		md, err := f.parseSnapshot(&m, time.Now())
		if err != nil {
			f.warn("DEPTH_BAD_SNAPSHOT", slog.String("instrument", m.Instrument), slog.String("err", err.Error()))
			return
		}
		f.dispatch(ctx, md)
	case "status":
		f.offer(&event.SessionStatus{
			BaseEvent: event.BaseEvent{Seq: quant.NextSeq(&f.seq), RecvTime: time.Now()},
			Source:    event.SourceMarketData,
			Status:    m.Status,
			Text:      m.Text,
		})
	}
}

func (f *DepthFeed) parseSnapshot(m *depthMessage, recv time.Time) (*event.MarketData, error) {
	inst, err := domain.ParseInstrument(m.Instrument)
	if err != nil {
		return nil, err
	}
	levels := make([]event.Level, 0, len(m.Bids)+len(m.Asks))
	for _, side := range []struct {
		side domain.Side
		raw  [][2]string
	}{{domain.Buy, m.Bids}, {domain.Sell, m.Asks}} {
		for _, pair := range side.raw {
			px, err := quant.ParseDecimal(pair[0])
			if err != nil {
				return nil, fmt.Errorf("px %q: %w", pair[0], err)
			}
			qty, err := quant.ParseDecimal(pair[1])
			if err != nil {
				return nil, fmt.Errorf("qty %q: %w", pair[1], err)
			}
			levels = append(levels, event.Level{Side: side.side, Px: px, Qty: qty})
		}
	}
	send := recv
	if m.Ts > 0 {
		send = time.UnixMilli(m.Ts)
	}
	return &event.MarketData{
		BaseEvent:  event.BaseEvent{Seq: quant.NextSeq(&f.seq), RecvTime: recv},
		Instrument: inst,
		SendTime:   send,
		Levels:     levels,
	}, nil
}

func (f *DepthFeed) dispatch(ctx context.Context, md *event.MarketData) {
	f.mu.Lock()
	recorder := f.recorder
	observers := slices.Clone(f.observers)
	f.mu.Unlock()

	if recorder != nil && f.recordGuard.Allow() {
		if err := recorder.SaveEvent(ctx, storage.StreamMarketData, md); err != nil {
			f.recordGuard.RecordFailure()
			f.warn("DEPTH_RECORD_FAILED", slog.Uint64("seq", md.Seq), slog.String("err", err.Error()))
		} else {
			f.recordGuard.RecordSuccess()
		}
	}
	for _, obs := range observers {
		obs(ctx, md)
	}
	f.offer(md)
}

func (f *DepthFeed) offer(ev event.Event) {
	if !f.sink.Offer(ev) {
		f.warn("DEPTH_DROPPED", slog.String("kind", ev.Kind().String()), slog.Uint64("seq", ev.GetSeq()))
	}
}

// warn logs at most warnLimit's rate. The next logged warning carries the
// count of those suppressed in between.
func (f *DepthFeed) warn(msg string, attrs ...slog.Attr) {
	if !f.warnLimit.TryAcquire() {
		f.suppressed.Add(1)
		return
	}
	if n := f.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, slog.Int64("suppressed", n))
	}
	slog.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}
