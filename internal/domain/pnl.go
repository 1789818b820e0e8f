package domain

import (
	"fmt"
	"math"
)

// Pnl is a realized-on-flat running PnL. Gross PnL is only recomputed when
// bought and sold quantity are within the flatness tolerance of each other.
type Pnl struct {
	NetPnl        float64 `json:"net_pnl"`
	HighWatermark float64 `json:"high_watermark"`
	NetQty        float64 `json:"net_qty"`
	GrossPnl      float64 `json:"gross_pnl"`
	Fees          float64 `json:"fees"`
	BotQty        float64 `json:"bot_qty"`
	BotVal        float64 `json:"bot_val"`
	SldQty        float64 `json:"sld_qty"`
	SldVal        float64 `json:"sld_val"`
}

// WithChange applies one fill to p and returns the result.
func (p Pnl) WithChange(side Side, feesChg, qtyChg, valChg, flatTolerance float64) Pnl {
	next := p
	next.Fees = p.Fees + feesChg
	switch side {
	case Buy:
		next.BotQty = p.BotQty + qtyChg
		next.BotVal = p.BotVal + valChg
	case Sell:
		next.SldQty = p.SldQty + qtyChg
		next.SldVal = p.SldVal + valChg
	default:
		panic(fmt.Sprintf("pnl change with side %v", side))
	}
	if math.Abs(next.BotQty-next.SldQty) <= flatTolerance {
		next.GrossPnl = next.SldVal - next.BotVal
	}
	next.NetPnl = next.GrossPnl - next.Fees
	next.HighWatermark = math.Max(p.HighWatermark, next.NetPnl)
	next.NetQty = next.BotQty - next.SldQty
	return next
}

// IsFlat reports whether net quantity is within tolerance of zero.
func (p Pnl) IsFlat(tolerance float64) bool {
	return math.Abs(p.NetQty) <= tolerance
}

// SumPnls adds every field.
func SumPnls(pnls ...Pnl) Pnl {
	var sum Pnl
	for _, p := range pnls {
		sum.NetPnl += p.NetPnl
		sum.HighWatermark += p.HighWatermark
		sum.NetQty += p.NetQty
		sum.GrossPnl += p.GrossPnl
		sum.Fees += p.Fees
		sum.BotQty += p.BotQty
		sum.BotVal += p.BotVal
		sum.SldQty += p.SldQty
		sum.SldVal += p.SldVal
	}
	return sum
}

func (p Pnl) String() string {
	return fmt.Sprintf("Pnl[net=%.8g hwm=%.8g netQty=%.8g gross=%.8g fees=%.8g bot=%.8g/%.8g sld=%.8g/%.8g]",
		p.NetPnl, p.HighWatermark, p.NetQty, p.GrossPnl, p.Fees, p.BotQty, p.BotVal, p.SldQty, p.SldVal)
}
