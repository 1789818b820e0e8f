package domain

// Fees prices trading costs. AdjustedPx narrows a bid (Buy) and widens an ask
// (Sell) by the fee rate.
type Fees interface {
	FeesChg(qtyChg, valChg float64) float64
	AdjustedPx(side Side, px float64) float64
}

// DefaultFeeRate is the proportional venue fee.
const DefaultFeeRate = 0.00005

// ZeroFees charges nothing.
type ZeroFees struct{}

func (ZeroFees) FeesChg(qtyChg, valChg float64) float64 { return 0 }

func (ZeroFees) AdjustedPx(side Side, px float64) float64 { return px }

// ProportionalFees charges Rate on traded notional.
type ProportionalFees struct {
	Rate float64
}

func (f ProportionalFees) FeesChg(qtyChg, valChg float64) float64 {
	return valChg * f.Rate
}

func (f ProportionalFees) AdjustedPx(side Side, px float64) float64 {
	switch side {
	case Sell:
		return px * (1.0 + f.Rate)
	case Buy:
		return px * (1.0 - f.Rate)
	default:
		return px
	}
}

// NewFees returns ZeroFees for a zero rate.
func NewFees(rate float64) Fees {
	if rate == 0 {
		return ZeroFees{}
	}
	return ProportionalFees{Rate: rate}
}
