// Package book maintains one sorted bid/ask ladder per instrument.
package book

import (
	"cmp"
	"time"

	"cross_arb/internal/domain"
)

// LevelUpdate is one price level as last reported by the feed. Immutable.
type LevelUpdate struct {
	Side     domain.Side `json:"side"`
	Px       float64     `json:"px"`
	Qty      float64     `json:"qty"`
	SendTime time.Time   `json:"send_time"`
	RecvTime time.Time   `json:"recv_time"`
}

// Compare orders levels of the same side best first: bids by descending
// price, asks by ascending price, then larger quantity, then more recent
// send time, then more recent receive time.
func Compare(a, b LevelUpdate) int {
	var c int
	if a.Side == domain.Buy {
		c = cmp.Compare(b.Px, a.Px)
	} else {
		c = cmp.Compare(a.Px, b.Px)
	}
	if c != 0 {
		return c
	}
	if c = cmp.Compare(b.Qty, a.Qty); c != 0 {
		return c
	}
	if c = b.SendTime.Compare(a.SendTime); c != 0 {
		return c
	}
	return b.RecvTime.Compare(a.RecvTime)
}
