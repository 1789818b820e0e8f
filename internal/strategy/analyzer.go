package strategy

import (
	"slices"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
)

// Contribution is one consumed slice of a crossed level.
type Contribution struct {
	Qty    float64          `json:"qty"`
	Update book.LevelUpdate `json:"update"`
}

// Px is the raw (not fee-adjusted) level price.
func (c Contribution) Px() float64 { return c.Update.Px }

// Analysis is the result of walking a crossed book. Bids are ordered best
// price first, asks in the order they were consumed (best price first).
// TheoVal is crossed bid notional minus crossed ask notional, both at
// fee-adjusted prices.
type Analysis struct {
	Bids    []Contribution `json:"bids"`
	Asks    []Contribution `json:"asks"`
	TheoVal float64        `json:"theo_val"`
}

// NotCrossed is the analysis of a book without a usable cross.
var NotCrossed = Analysis{}

// Crossed reports whether the analysis found anything to trade.
func (a Analysis) Crossed() bool {
	return len(a.Bids) > 0 && len(a.Asks) > 0
}

// BidQty and AskQty total the contributions of one side.
func (a Analysis) BidQty() float64 { return sumQty(a.Bids) }
func (a Analysis) AskQty() float64 { return sumQty(a.Asks) }

func sumQty(cs []Contribution) float64 {
	var q float64
	for _, c := range cs {
		q += c.Qty
	}
	return q
}

// Analyzer finds the tradeable overlap of a crossed book net of fees.
type Analyzer struct {
	fees domain.Fees
}

// NewAnalyzer creates an analyzer pricing with fees.
func NewAnalyzer(fees domain.Fees) *Analyzer {
	if fees == nil {
		fees = domain.ZeroFees{}
	}
	return &Analyzer{fees: fees}
}

// Analyze walks the book from the least aggressive crossed bid toward the best
// bid, consuming asks best first while the fee-adjusted ask stays below the
// fee-adjusted bid. Remainders below minSigQty count as consumed and never
// produce a contribution.
func (a *Analyzer) Analyze(b *book.Book, minSigQty float64) Analysis {
	bids := b.Get(domain.Buy)
	asks := b.Get(domain.Sell)
	if len(bids) == 0 || len(asks) == 0 {
		return NotCrossed
	}

	bidIdx := lowestCrossedBid(bids, asks[0].Px)
	if bidIdx < 0 {
		return NotCrossed
	}

	crossedBids := make([]Contribution, 0, len(bids))
	crossedAsks := make([]Contribution, 0, len(asks))
	var bidVal, askVal, askConsumed float64
	askIdx := 0

	for bidIdx >= 0 {
		bid := bids[bidIdx]
		bidPx := a.fees.AdjustedPx(domain.Buy, bid.Px)
		bidAvail := bid.Qty
		if bidAvail < minSigQty {
			bidIdx--
			continue
		}

		for askIdx < len(asks) {
			ask := asks[askIdx]
			askPx := a.fees.AdjustedPx(domain.Sell, ask.Px)
			if askPx >= bidPx {
				// try the next better bid
				bidIdx--
				break
			}

			askQty := ask.Qty - askConsumed
			if askQty < minSigQty {
				askConsumed = 0
				askIdx++
				continue
			}

			consumedBid, consumedAsk := false, false
			if bidAvail >= askQty {
				crossedBids = append(crossedBids, Contribution{Qty: askQty, Update: bid})
				crossedAsks = append(crossedAsks, Contribution{Qty: askQty, Update: ask})
				bidVal += askQty * bidPx
				askVal += askQty * askPx
				consumedAsk = true
				bidAvail -= askQty
				if bidAvail < minSigQty {
					consumedBid = true
				}
			} else {
				crossedBids = append(crossedBids, Contribution{Qty: bidAvail, Update: bid})
				crossedAsks = append(crossedAsks, Contribution{Qty: bidAvail, Update: ask})
				bidVal += bidAvail * bidPx
				askVal += bidAvail * askPx
				consumedBid = true
				askConsumed += bidAvail
				if ask.Qty-askConsumed < minSigQty {
					consumedAsk = true
				}
			}

			if consumedAsk {
				askConsumed = 0
				askIdx++
			}
			if consumedBid {
				bidIdx--
				break
			}
		}

		if askIdx >= len(asks) {
			break
		}
	}

	if len(crossedBids) == 0 {
		return NotCrossed
	}
	slices.Reverse(crossedBids)
	return Analysis{Bids: crossedBids, Asks: crossedAsks, TheoVal: bidVal - askVal}
}

// lowestCrossedBid returns the index of the worst bid priced above bestAsk, or -1.
func lowestCrossedBid(bids []book.LevelUpdate, bestAsk float64) int {
	idx := -1
	for i, u := range bids {
		if u.Px > bestAsk {
			idx = i
		}
	}
	return idx
}
