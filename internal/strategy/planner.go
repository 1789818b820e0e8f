package strategy

import (
	"log/slog"
	"math"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/orderid"
	"cross_arb/pkg/quant"
)

// SizeLimits cap a single entry.
type SizeLimits struct {
	MaxQty      float64
	MaxNotional float64
}

// legParams is how much of one side of a cross fits within the size limits.
type legParams struct {
	qty     float64
	val     float64
	worstPx float64
}

// PlanOrders builds a matched IOC buy/sell pair from a crossed analysis. The
// buy is sized against the crossed asks and the sell against the crossed
// bids. Returns false when the legs disagree or the size is below the venue
// minimum.
func PlanOrders(inst domain.Instrument, a Analysis, c domain.Constraints, limits SizeLimits, now time.Time) (domain.CxOrders, bool) {
	buyParams := paramsToTradeAgainst(a.Asks, limits)
	sellParams := paramsToTradeAgainst(a.Bids, limits)

	if math.Abs(buyParams.qty-sellParams.qty) >= c.MinSigQty {
		slog.Error("ORDER_QTY_MISMATCH",
			slog.String("instrument", inst.String()),
			slog.Float64("buy_qty", buyParams.qty),
			slog.Float64("sell_qty", sellParams.qty),
			slog.Float64("theo_val", a.TheoVal))
		return domain.CxOrders{}, false
	}

	qty := quant.RoundDown(math.Min(buyParams.qty, sellParams.qty), c.QtyDecimals)
	if qty < c.MinOrderQty {
		return domain.CxOrders{}, false
	}

	bidPx, askPx := midPxs(sellParams.worstPx, buyParams.worstPx, c.MinPxTick)
	buyID, sellID := orderid.NewPair(now)
	buy := domain.Order{
		ID:         buyID,
		Instrument: inst,
		Ccy:        inst.Base,
		Side:       domain.Buy,
		Qty:        qty,
		Px:         quant.RoundDown(askPx, c.PxDecimals),
		TIF:        domain.IOC,
		SentTime:   now,
	}
	sell := domain.Order{
		ID:         sellID,
		Instrument: inst,
		Ccy:        inst.Base,
		Side:       domain.Sell,
		Qty:        qty,
		Px:         quant.RoundUp(bidPx, c.PxDecimals),
		TIF:        domain.IOC,
		SentTime:   now,
	}
	return domain.CxOrders{Buy: buy, Sell: sell}, true
}

func paramsToTradeAgainst(levels []Contribution, limits SizeLimits) legParams {
	var p legParams
	for _, lvl := range levels {
		px := lvl.Px()
		add := qtyToAdd(p.qty, p.val, lvl.Qty, px, limits)
		if add <= 0 {
			break
		}
		p.qty += add
		p.val += add * px
		p.worstPx = px
	}
	return p
}

func qtyToAdd(qty, val, avail, px float64, limits SizeLimits) float64 {
	if qty >= limits.MaxQty || val >= limits.MaxNotional {
		return 0
	}
	add := avail
	if qty+avail > limits.MaxQty {
		add = limits.MaxQty - qty
	}
	if val+add*px > limits.MaxNotional {
		return (limits.MaxNotional - val) / px
	}
	return add
}

// midPxs moves both limit prices two ticks through the mid, bounded by the
// worst crossed prices so neither leg is priced outside the cross.
func midPxs(worstBid, worstAsk, tick float64) (bidPx, askPx float64) {
	mid := (worstBid + worstAsk) / 2
	bidPx = math.Min(mid+2*tick, worstBid)
	askPx = math.Max(mid-2*tick, worstAsk)
	return bidPx, askPx
}
