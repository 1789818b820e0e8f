// Package risk implements the pre-trade admission gate, per-instrument
// circuit breakers, the entry magazine and order sizing.
package risk

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"time"

	"cross_arb/internal/domain"
)

// ErrUnsupportedPerPair is returned when more than one concurrent entry per
// instrument is requested. Sizing assumes a single matched pair in flight.
var ErrUnsupportedPerPair = errors.New("more than one concurrent entry per instrument is not supported")

// ErrUnknownLimit is returned by SetLimit for a name it does not recognise.
var ErrUnknownLimit = errors.New("unknown limit")

// ErrInvalidLimit is returned by SetLimit for a value the limit cannot hold.
var ErrInvalidLimit = errors.New("invalid limit value")

const (
	maxEntriesLimit = math.MaxInt32
	maxBackoffSecs  = float64(math.MaxInt64 / int64(time.Second))
)

// Limits is the numeric risk configuration. Every change through the Gate
// bumps Version.
type Limits struct {
	Version uint64 `json:"version" yaml:"-"`

	// Per-entry caps
	TradeNotional float64                `json:"trade_notional" yaml:"trade_notional"`
	TradeQty      map[domain.Ccy]float64 `json:"trade_qty" yaml:"trade_qty"`

	// Position caps trip the instrument's circuit breaker
	PosNotional float64                `json:"pos_notional" yaml:"pos_notional"`
	PosQty      map[domain.Ccy]float64 `json:"pos_qty" yaml:"pos_qty"`

	MaxLoss           float64       `json:"max_loss" yaml:"max_loss"`
	MinTheoVal        float64       `json:"min_theo_val" yaml:"min_theo_val"`
	MaxCrossRatio     float64       `json:"max_cross_ratio" yaml:"max_cross_ratio"`
	BadDataCrossRatio float64       `json:"bad_data_cross_ratio" yaml:"bad_data_cross_ratio"`
	MaxEntries        int           `json:"max_entries" yaml:"max_entries"`
	MaxEntriesPerPair int           `json:"max_entries_per_pair" yaml:"max_entries_per_pair"`
	Backoff           time.Duration `json:"backoff" yaml:"backoff"`
}

// DefaultLimits returns conservative limits for BTC and ETH quoted in USD.
func DefaultLimits() Limits {
	return Limits{
		TradeNotional:     10_000,
		TradeQty:          map[domain.Ccy]float64{"BTC": 0.2, "ETH": 2.0},
		PosNotional:       50_000,
		PosQty:            map[domain.Ccy]float64{"BTC": 2.5, "ETH": 25.0},
		MaxLoss:           200,
		MinTheoVal:        0.10,
		MaxCrossRatio:     0.03,
		BadDataCrossRatio: 0.1,
		MaxEntries:        4,
		MaxEntriesPerPair: 1,
		Backoff:           5 * time.Second,
	}
}

// Validate checks that the limits are usable.
func (l Limits) Validate() error {
	if l.MaxEntriesPerPair > 1 {
		return ErrUnsupportedPerPair
	}
	if l.TradeNotional < 0 || l.PosNotional < 0 || l.MaxLoss < 0 {
		return fmt.Errorf("notional limits must be non-negative")
	}
	if l.MaxEntries < 0 || l.MaxEntriesPerPair < 0 {
		return fmt.Errorf("entry limits must be non-negative")
	}
	if l.Backoff < 0 {
		return fmt.Errorf("backoff must be non-negative")
	}
	for ccy, q := range l.TradeQty {
		if q < 0 {
			return fmt.Errorf("trade qty for %s must be non-negative", ccy)
		}
	}
	for ccy, q := range l.PosQty {
		if q < 0 {
			return fmt.Errorf("pos qty for %s must be non-negative", ccy)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l Limits) Clone() Limits {
	c := l
	c.TradeQty = maps.Clone(l.TradeQty)
	c.PosQty = maps.Clone(l.PosQty)
	return c
}

// TradeQtyLimit is the per-entry quantity cap for a base currency. A
// currency without a configured cap cannot be traded.
func (l Limits) TradeQtyLimit(ccy domain.Ccy) float64 {
	return l.TradeQty[ccy]
}

// PosQtyLimit is the net position cap for a base currency.
func (l Limits) PosQtyLimit(ccy domain.Ccy) float64 {
	return l.PosQty[ccy]
}

// LimitNames lists the names accepted by Set. Per-currency limits take the
// form trade_qty:BTC.
func LimitNames() []string {
	return []string{
		"trade_notional", "trade_qty:<CCY>", "pos_notional", "pos_qty:<CCY>",
		"max_loss", "min_theo_val", "max_cross_ratio", "bad_data_cross_ratio",
		"max_entries", "max_entries_per_pair", "backoff_secs",
	}
}

// Set changes one named limit and returns its previous value.
func (l *Limits) Set(name string, value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %s=%g", ErrInvalidLimit, name, value)
	}
	if ccy, ok := strings.CutPrefix(name, "trade_qty:"); ok {
		return setCcy(&l.TradeQty, domain.Ccy(strings.ToUpper(ccy)), value), nil
	}
	if ccy, ok := strings.CutPrefix(name, "pos_qty:"); ok {
		return setCcy(&l.PosQty, domain.Ccy(strings.ToUpper(ccy)), value), nil
	}

	var prev float64
	switch name {
	case "trade_notional":
		prev, l.TradeNotional = l.TradeNotional, value
	case "pos_notional":
		prev, l.PosNotional = l.PosNotional, value
	case "max_loss":
		prev, l.MaxLoss = l.MaxLoss, value
	case "min_theo_val":
		prev, l.MinTheoVal = l.MinTheoVal, value
	case "max_cross_ratio":
		prev, l.MaxCrossRatio = l.MaxCrossRatio, value
	case "bad_data_cross_ratio":
		prev, l.BadDataCrossRatio = l.BadDataCrossRatio, value
	case "max_entries":
		if err := checkCount(name, value); err != nil {
			return float64(l.MaxEntries), err
		}
		prev = float64(l.MaxEntries)
		l.MaxEntries = int(value)
	case "max_entries_per_pair":
		if value > 1 {
			return float64(l.MaxEntriesPerPair), ErrUnsupportedPerPair
		}
		if err := checkCount(name, value); err != nil {
			return float64(l.MaxEntriesPerPair), err
		}
		prev = float64(l.MaxEntriesPerPair)
		l.MaxEntriesPerPair = int(value)
	case "backoff_secs":
		if value > maxBackoffSecs {
			return l.Backoff.Seconds(), fmt.Errorf("%w: %s=%g exceeds %g", ErrInvalidLimit, name, value, maxBackoffSecs)
		}
		prev = l.Backoff.Seconds()
		l.Backoff = time.Duration(value * float64(time.Second))
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownLimit, name)
	}
	return prev, nil
}

func checkCount(name string, value float64) error {
	if value != math.Trunc(value) || value > maxEntriesLimit {
		return fmt.Errorf("%w: %s=%g is not a count", ErrInvalidLimit, name, value)
	}
	return nil
}

func setCcy(m *map[domain.Ccy]float64, ccy domain.Ccy, value float64) float64 {
	if *m == nil {
		*m = make(map[domain.Ccy]float64)
	}
	prev := (*m)[ccy]
	(*m)[ccy] = value
	return prev
}

func (l Limits) String() string {
	return fmt.Sprintf("Limits{v%d trade_notional=%g trade_qty=%s pos_notional=%g pos_qty=%s max_loss=%g "+
		"min_theo_val=%g max_cross_ratio=%g bad_data_cross_ratio=%g max_entries=%d max_entries_per_pair=%d backoff=%s}",
		l.Version, l.TradeNotional, ccyMap(l.TradeQty), l.PosNotional, ccyMap(l.PosQty), l.MaxLoss,
		l.MinTheoVal, l.MaxCrossRatio, l.BadDataCrossRatio, l.MaxEntries, l.MaxEntriesPerPair, l.Backoff)
}

func ccyMap(m map[domain.Ccy]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%g", k, m[domain.Ccy(k)])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
