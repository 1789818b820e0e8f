package risk

import (
	"testing"

	"cross_arb/internal/domain"
)

func TestBreakers_TripIsLatched(t *testing.T) {
	b := NewBreakers()
	if b.State(ethUsd) != StateClosed {
		t.Fatalf("expected CLOSED, got %s", b.State(ethUsd))
	}

	if !b.Trip(ethUsd, "test") {
		t.Error("first trip should report a change")
	}
	if b.Trip(ethUsd, "again") {
		t.Error("second trip should be a no-op")
	}
	if b.State(ethUsd) != StateOpen {
		t.Errorf("expected OPEN, got %s", b.State(ethUsd))
	}
	if b.IsTripped(btcUsd) {
		t.Error("breakers are per instrument")
	}
}

func TestBreakers_Reset(t *testing.T) {
	b := NewBreakers()
	b.Trip(ethUsd, "test")
	b.Trip(btcUsd, "test")

	prev := b.Reset(ethUsd)
	if len(prev) != 2 {
		t.Errorf("previous set %v, want 2 entries", prev)
	}
	if b.IsTripped(ethUsd) || !b.IsTripped(btcUsd) {
		t.Error("Reset should only close the named breaker")
	}

	prev = b.ResetAll()
	if len(prev) != 1 || prev[0] != btcUsd {
		t.Errorf("previous set %v, want [BTC/USD]", prev)
	}
	if len(b.Tripped()) != 0 {
		t.Error("expected all breakers closed")
	}
}

func TestBreakers_TrippedSorted(t *testing.T) {
	b := NewBreakers()
	b.Trip(ethUsd, "x")
	b.Trip(btcUsd, "x")
	got := b.Tripped()
	want := []domain.Instrument{btcUsd, ethUsd}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Tripped() = %v, want %v", got, want)
	}
}

func TestMagazine(t *testing.T) {
	var m magazine
	if m.available() {
		t.Error("empty magazine should not be available")
	}
	if n := m.load(2); n != 2 {
		t.Errorf("load = %d, want 2", n)
	}
	m.fire()
	m.fire()
	if m.available() {
		t.Error("spent magazine should not be available")
	}
	if n := m.fire(); n != -1 {
		t.Errorf("fire = %d, want -1", n)
	}
	if prev := m.empty(); prev != -1 || m.rounds != 0 {
		t.Errorf("empty = %d, rounds %d", prev, m.rounds)
	}
}
