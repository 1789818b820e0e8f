package strategy

import (
	"time"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
)

// Strategy turns a book into an entry decision.
type Strategy interface {
	// Analyze measures the tradeable cross in b. Dust below minSigQty is ignored.
	Analyze(b *book.Book, minSigQty float64) Analysis

	// Plan sizes a matched order pair for an approved analysis.
	Plan(inst domain.Instrument, a Analysis, c domain.Constraints, limits SizeLimits, now time.Time) (domain.CxOrders, bool)
}

// CrossedBook is the crossed-book arbitrage strategy.
type CrossedBook struct {
	*Analyzer
}

// NewCrossedBook creates the strategy with the given fee schedule.
func NewCrossedBook(fees domain.Fees) *CrossedBook {
	return &CrossedBook{Analyzer: NewAnalyzer(fees)}
}

// Plan delegates to PlanOrders.
func (s *CrossedBook) Plan(inst domain.Instrument, a Analysis, c domain.Constraints, limits SizeLimits, now time.Time) (domain.CxOrders, bool) {
	return PlanOrders(inst, a, c, limits, now)
}
