package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/orderid"
)

func openStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEventStore_SaveAndLoad(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	eth := domain.MustInstrument("ETH/USD")
	id := orderid.New(now)

	ev1 := &event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 1, RecvTime: now},
		ExecID:     "e-1",
		ClOrdID:    id,
		Instrument: eth,
		Side:       domain.Buy,
		ExecType:   event.ExecNew,
	}
	ev2 := &event.ExecReport{
		BaseEvent:  event.BaseEvent{Seq: 2, RecvTime: now.Add(time.Millisecond)},
		ExecID:     "e-2",
		ClOrdID:    id,
		Instrument: eth,
		Side:       domain.Buy,
		ExecType:   event.ExecFill,
		LastQty:    0.5,
		LastPx:     1699,
		CumQty:     0.5,
		AvgPx:      1699,
	}
	md := &event.MarketData{
		BaseEvent:  event.BaseEvent{Seq: 1, RecvTime: now},
		Instrument: eth,
		SendTime:   now,
		Levels:     []event.Level{{Side: domain.Buy, Px: 1700, Qty: 1}},
	}

	for _, ev := range []*event.ExecReport{ev1, ev2} {
		if err := store.SaveEvent(ctx, StreamExec, ev); err != nil {
			t.Fatalf("Failed to save %s: %v", ev.ExecID, err)
		}
	}
	if err := store.SaveEvent(ctx, StreamMarketData, md); err != nil {
		t.Fatalf("Failed to save market data: %v", err)
	}

	events, err := store.LoadEvents(ctx, StreamExec, 1, 0)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 exec events, got %d", len(events))
	}

	got, ok := events[1].(*event.ExecReport)
	if !ok {
		t.Fatalf("Expected *ExecReport, got %T", events[1])
	}
	if got.ClOrdID != orderid.ClOrdID(id) || got.LastQty != 0.5 || got.ExecType != event.ExecFill {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	mds, err := store.LoadEvents(ctx, StreamMarketData, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(mds) != 1 || mds[0].Kind() != event.KindMarketData {
		t.Errorf("Expected one market data event, got %v", mds)
	}
}

func TestEventStore_LoadRange(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		ev := &event.SessionStatus{BaseEvent: event.BaseEvent{Seq: seq, RecvTime: time.Now()}, Source: event.SourceExec, Status: "UP"}
		if err := store.SaveEvent(ctx, StreamExec, ev); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.LoadEvents(ctx, StreamExec, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].GetSeq() != 2 || events[2].GetSeq() != 4 {
		t.Errorf("Expected seq 2..4, got %d events", len(events))
	}
}

func TestEventStore_DuplicateSeqRejected(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ev := &event.SessionStatus{BaseEvent: event.BaseEvent{Seq: 1}, Source: event.SourceMarketData}

	if err := store.SaveEvent(ctx, StreamMarketData, ev); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEvent(ctx, StreamMarketData, ev); err == nil {
		t.Error("Expected error for duplicate sequence in the same stream")
	}
	if err := store.SaveEvent(ctx, StreamExec, ev); err != nil {
		t.Errorf("Streams have independent sequences: %v", err)
	}
}

func TestEventStore_GetLastSeq(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	seq, err := store.GetLastSeq(ctx, StreamExec)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("Expected 0 for empty stream, got %d", seq)
	}

	for _, s := range []uint64{3, 7, 5} {
		ev := &event.SessionStatus{BaseEvent: event.BaseEvent{Seq: s}}
		if err := store.SaveEvent(ctx, StreamExec, ev); err != nil {
			t.Fatal(err)
		}
	}

	seq, _ = store.GetLastSeq(ctx, StreamExec)
	if seq != 7 {
		t.Errorf("Expected last seq 7, got %d", seq)
	}
	if seq, _ := store.GetLastSeq(ctx, StreamMarketData); seq != 0 {
		t.Errorf("Expected 0 for md stream, got %d", seq)
	}
}

func TestEventStore_RunState(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	rs, err := store.LoadRunState(ctx)
	if err != nil || rs.Unclean() || rs.Mode != "" || rs.LastSeq != 0 {
		t.Fatalf("fresh store run state = %+v, %v", rs, err)
	}

	if err := store.MarkRunning(ctx, at); err != nil {
		t.Fatal(err)
	}
	if rs, _ := store.LoadRunState(ctx); !rs.Unclean() || !rs.UpdatedAt.Equal(at) {
		t.Errorf("running state = %+v", rs)
	}

	if err := store.MarkStopped(ctx, at.Add(time.Minute), "DRY_RUN", 42); err != nil {
		t.Fatal(err)
	}
	rs, err = store.LoadRunState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Unclean() || rs.Mode != "DRY_RUN" || rs.LastSeq != 42 {
		t.Errorf("stopped state = %+v", rs)
	}

	// a later start keeps the last clean mode until the next stop
	if err := store.MarkRunning(ctx, at.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if rs, _ := store.LoadRunState(ctx); !rs.Unclean() || rs.Mode != "DRY_RUN" {
		t.Errorf("restarted state = %+v", rs)
	}
}
