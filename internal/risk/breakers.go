package risk

import (
	"log/slog"
	"sort"
	"sync"

	"cross_arb/internal/domain"
	"cross_arb/internal/metrics"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota // Trading allowed
	StateOpen                // Tripped, entries rejected until reset
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breakers is a set of per-instrument latches. A tripped breaker stays open
// until an operator resets it; there is no half-open recovery.
// Thread-safe for concurrent use.
type Breakers struct {
	mu      sync.RWMutex
	tripped map[domain.Instrument]string
}

// NewBreakers creates a set with every breaker closed.
func NewBreakers() *Breakers {
	return &Breakers{tripped: make(map[domain.Instrument]string)}
}

// Trip opens the breaker for inst. Returns false if it was already open.
func (b *Breakers) Trip(inst domain.Instrument, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tripped[inst]; ok {
		return false
	}
	b.tripped[inst] = reason
	metrics.BreakersTripped.Set(float64(len(b.tripped)))
	slog.Warn("CIRCUIT_BREAKER_TRIPPED",
		slog.String("instrument", inst.String()),
		slog.String("reason", reason))
	return true
}

// State returns the breaker state for inst.
func (b *Breakers) State(inst domain.Instrument) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.tripped[inst]; ok {
		return StateOpen
	}
	return StateClosed
}

// IsTripped reports whether the breaker for inst is open.
func (b *Breakers) IsTripped(inst domain.Instrument) bool {
	return b.State(inst) == StateOpen
}

// Tripped returns the open breakers in instrument order.
func (b *Breakers) Tripped() []domain.Instrument {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Instrument, 0, len(b.tripped))
	for inst := range b.tripped {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Reset closes the breaker for inst and returns the set that was open before.
func (b *Breakers) Reset(inst domain.Instrument) []domain.Instrument {
	prev := b.Tripped()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tripped, inst)
	metrics.BreakersTripped.Set(float64(len(b.tripped)))
	slog.Info("CIRCUIT_BREAKER_RESET", slog.String("instrument", inst.String()))
	return prev
}

// ResetAll closes every breaker and returns the set that was open before.
func (b *Breakers) ResetAll() []domain.Instrument {
	prev := b.Tripped()
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.tripped)
	metrics.BreakersTripped.Set(0)
	slog.Info("CIRCUIT_BREAKER_RESET_ALL", slog.Int("count", len(prev)))
	return prev
}
