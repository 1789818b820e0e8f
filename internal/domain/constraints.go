package domain

// Constraints are venue trading rules for a base currency.
type Constraints struct {
	MinSigQty   float64 `json:"min_sig_qty" yaml:"min_sig_qty"`
	MinOrderQty float64 `json:"min_order_qty" yaml:"min_order_qty"`
	QtyDecimals int32   `json:"qty_decimals" yaml:"qty_decimals"`
	PxDecimals  int32   `json:"px_decimals" yaml:"px_decimals"`
	MinPxTick   float64 `json:"min_px_tick" yaml:"min_px_tick"`
}

// DefaultConstraints fit a coin quoted to cents with 4-decimal quantities.
func DefaultConstraints() Constraints {
	return Constraints{
		MinSigQty:   0.0001,
		MinOrderQty: 0.001,
		QtyDecimals: 4,
		PxDecimals:  2,
		MinPxTick:   0.01,
	}
}
