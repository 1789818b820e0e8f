package domain

import (
	"fmt"
	"time"

	"cross_arb/internal/orderid"
)

// Side is the side of an order or of a book level. Bids are Buy, asks are Sell.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce of an order.
type TimeInForce uint8

const (
	Day TimeInForce = iota + 1
	GTC
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case Day:
		return "DAY"
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// OrdStatus is the lifecycle state of an order.
//
//	PendingNew -> New -> {PartiallyFilled -> Filled | Canceled | Rejected}
//	PendingCancel is reachable from New and PartiallyFilled.
type OrdStatus uint8

const (
	PendingNew OrdStatus = iota + 1
	New
	PartiallyFilled
	Filled
	Canceled
	Rejected
	PendingCancel
)

func (s OrdStatus) String() string {
	switch s {
	case PendingNew:
		return "PENDING_NEW"
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	case PendingCancel:
		return "PENDING_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrdStatus) IsTerminal() bool {
	return s == Filled || s == Canceled || s == Rejected
}

// CanCancel reports whether a cancel request may move s to PendingCancel.
func (s OrdStatus) CanCancel() bool {
	return s == New || s == PartiallyFilled
}

// Order is an immutable order request. Use WithQty to resize.
type Order struct {
	ID         orderid.ClOrdID `json:"id"`
	Instrument Instrument      `json:"instrument"`
	Ccy        Ccy             `json:"ccy"`
	Side       Side            `json:"side"`
	Qty        float64         `json:"qty"`
	Px         float64         `json:"px"`
	TIF        TimeInForce     `json:"tif"`
	SentTime   time.Time       `json:"sent_time"`
}

// WithQty returns a copy of the order with a new quantity.
func (o Order) WithQty(qty float64) Order {
	o.Qty = qty
	return o
}

// Notional is Qty * Px in quote currency units.
func (o Order) Notional() float64 {
	return o.Qty * o.Px
}

func (o Order) String() string {
	id := ""
	if o.ID != nil {
		id = o.ID.String()
	}
	return fmt.Sprintf("Order[%s %s %s %g @ %g %s]", id, o.Instrument, o.Side, o.Qty, o.Px, o.TIF)
}

// Fill is the most recent cumulative fill of an order.
type Fill struct {
	CumQty float64 `json:"cum_qty"`
	AvgPx  float64 `json:"avg_px"`
}

// OrderState is an order together with its lifecycle state.
type OrderState struct {
	Order    Order     `json:"order"`
	Status   OrdStatus `json:"status"`
	LastFill *Fill     `json:"last_fill,omitempty"`
}

// PendingNewOrder is the initial state of a submitted order.
func PendingNewOrder(o Order) OrderState {
	return OrderState{Order: o, Status: PendingNew}
}

// WithStatus returns a copy with a new status, keeping the last fill.
func (s OrderState) WithStatus(status OrdStatus) OrderState {
	s.Status = status
	return s
}

// WithStatusAndFill returns a copy with a new status and fill.
func (s OrderState) WithStatusAndFill(status OrdStatus, fill Fill) OrderState {
	s.Status = status
	s.LastFill = &fill
	return s
}

// CxOrders is a matched buy/sell pair sized to the same quantity.
type CxOrders struct {
	Buy  Order `json:"buy"`
	Sell Order `json:"sell"`
}
