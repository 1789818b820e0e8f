package book

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/pkg/quant"
)

// Book is the ladder of one instrument. Not safe for concurrent use; the
// dispatch loop owns it.
type Book struct {
	Instrument domain.Instrument
	bids       []LevelUpdate
	asks       []LevelUpdate
}

// New creates an empty book.
func New(inst domain.Instrument) *Book {
	return &Book{Instrument: inst}
}

// UpdateBook replaces both sides with sorted copies of the given levels and
// returns the stored ladders.
func (b *Book) UpdateBook(bids, asks []LevelUpdate) ([]LevelUpdate, []LevelUpdate) {
	b.bids = sortedCopy(bids)
	b.asks = sortedCopy(asks)
	return b.bids, b.asks
}

func sortedCopy(levels []LevelUpdate) []LevelUpdate {
	out := make([]LevelUpdate, len(levels))
	copy(out, levels)
	slices.SortStableFunc(out, Compare)
	return out
}

// Apply replaces the ladders from a full-refresh event. Duplicates are ignored.
func (b *Book) Apply(md *event.MarketData) error {
	if md.PossDup {
		return nil
	}
	if md.Instrument != b.Instrument {
		return fmt.Errorf("book %s: refresh for %s", b.Instrument, md.Instrument)
	}

	bids := make([]LevelUpdate, 0, len(md.Levels))
	asks := make([]LevelUpdate, 0, len(md.Levels))
	for _, lvl := range md.Levels {
		u := LevelUpdate{Side: lvl.Side, Px: lvl.Px, Qty: lvl.Qty, SendTime: md.SendTime, RecvTime: md.RecvTime}
		switch lvl.Side {
		case domain.Buy:
			bids = append(bids, u)
		case domain.Sell:
			asks = append(asks, u)
		default:
			return fmt.Errorf("book %s: level with side %v", b.Instrument, lvl.Side)
		}
	}
	b.UpdateBook(bids, asks)
	return nil
}

// Get returns the sorted ladder of one side. Callers must not modify it.
func (b *Book) Get(side domain.Side) []LevelUpdate {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// Best returns the top of one side.
func (b *Book) Best(side domain.Side) (LevelUpdate, bool) {
	levels := b.Get(side)
	if len(levels) == 0 {
		return LevelUpdate{}, false
	}
	return levels[0], true
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (b *Book) Snapshot() *Book {
	return &Book{
		Instrument: b.Instrument,
		bids:       slices.Clone(b.bids),
		asks:       slices.Clone(b.asks),
	}
}

// Print renders the book as two columns, bids on the left as "[ qty @ px ]"
// and asks on the right as "[ px @ qty ]", one row per distinct price from
// high to low. Only the best maxUncrossed uncrossed levels per side are shown
// along with every crossed level.
func (b *Book) Print(maxUncrossed int) string {
	const minWidth = 3

	bidQtyW, bidPxW, askPxW, askQtyW := minWidth, minWidth, minWidth, minWidth
	highestBid, lowestAsk := -1.0, -1.0
	pxSet := make(map[float64]struct{}, len(b.bids)+len(b.asks))

	for _, u := range b.bids {
		bidQtyW = max(bidQtyW, len(quant.DecimalString(u.Qty)))
		bidPxW = max(bidPxW, len(quant.DecimalString(u.Px)))
		pxSet[u.Px] = struct{}{}
		if highestBid < 0 || u.Px > highestBid {
			highestBid = u.Px
		}
	}
	for _, u := range b.asks {
		askQtyW = max(askQtyW, len(quant.DecimalString(u.Qty)))
		askPxW = max(askPxW, len(quant.DecimalString(u.Px)))
		pxSet[u.Px] = struct{}{}
		if lowestAsk < 0 || u.Px < lowestAsk {
			lowestAsk = u.Px
		}
	}

	pxs := make([]float64, 0, len(pxSet))
	for px := range pxSet {
		pxs = append(pxs, px)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(pxs)))

	frame := len("[ ") + len(" @ ") + len(" ]")
	bidW := frame + bidQtyW + bidPxW
	askW := frame + askPxW + askQtyW

	var sb strings.Builder
	fmt.Fprintf(&sb, "BOOK %s:\n", b.Instrument)
	sb.WriteString(center("BIDS", bidW))
	sb.WriteString(" | ")
	sb.WriteString(center("ASKS", askW))

	// Every crossed level is shown plus the best maxUncrossed uncrossed levels per side.
	highestAskShown := math.Inf(-1)
	shown := 0
	for _, u := range b.asks {
		if highestBid < 0 || u.Px > highestBid {
			if shown >= maxUncrossed {
				break
			}
			shown++
		}
		highestAskShown = u.Px
	}

	lowestBidShown := math.Inf(1)
	shown = 0
	for _, u := range b.bids {
		if lowestAsk < 0 || u.Px < lowestAsk {
			if shown >= maxUncrossed {
				break
			}
			shown++
		}
		lowestBidShown = u.Px
	}

	for _, px := range pxs {
		bidCell := strings.Repeat(" ", bidW)
		if u, ok := find(b.bids, px); ok && u.Px >= lowestBidShown {
			bidCell = fmt.Sprintf("[ %*s @ %*s ]", bidQtyW, quant.DecimalString(u.Qty), bidPxW, quant.DecimalString(u.Px))
		}
		askCell := strings.Repeat(" ", askW)
		if u, ok := find(b.asks, px); ok && u.Px <= highestAskShown {
			askCell = fmt.Sprintf("[ %*s @ %*s ]", askPxW, quant.DecimalString(u.Px), askQtyW, quant.DecimalString(u.Qty))
		}
		if strings.TrimSpace(bidCell) == "" && strings.TrimSpace(askCell) == "" {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(bidCell)
		sb.WriteString(" | ")
		sb.WriteString(askCell)
	}
	return sb.String()
}

func find(levels []LevelUpdate, px float64) (LevelUpdate, bool) {
	for _, u := range levels {
		if u.Px == px {
			return u, true
		}
	}
	return LevelUpdate{}, false
}

func center(s string, width int) string {
	lead := (width-len(s))/2 + len(s)
	return fmt.Sprintf("%-*s", width, fmt.Sprintf("%*s", lead, s))
}

func (b *Book) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BOOK %s:", b.Instrument)
	for _, u := range b.bids {
		fmt.Fprintf(&sb, "[ %g @ %g ] ", u.Qty, u.Px)
	}
	sb.WriteString("<-> ")
	for _, u := range b.asks {
		fmt.Fprintf(&sb, "[ %g @ %g ] ", u.Px, u.Qty)
	}
	return sb.String()
}
