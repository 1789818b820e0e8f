package execution

import (
	"context"
	"errors"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
)

var (
	// ErrNoSession is returned by every outbound action when no session is
	// logged on. The action was not attempted.
	ErrNoSession = errors.New("no logged-on session")

	// ErrMissingMapping is returned when an order cannot be translated for
	// the venue. The order was not sent.
	ErrMissingMapping = errors.New("missing field mapping")
)

// Session is the lifecycle shared by market data and execution sessions.
type Session interface {
	LoggedOn() bool
	Start(ctx context.Context) error
	Stop()
}

// ExecSession sends orders to an execution venue. Reports come back
// asynchronously through the EventSink given to the session.
type ExecSession interface {
	Session

	// SendNewOrder submits a new order.
	SendNewOrder(ctx context.Context, o domain.Order) error

	// SendCancel requests cancellation of a working order.
	SendCancel(ctx context.Context, o domain.Order) error

	// SendResendRequest asks the venue to retransmit reports begin..end
	// inclusive, flagged as possible duplicates. An end of 0 means all.
	SendResendRequest(ctx context.Context, begin, end uint64) error
}

// MarketDataSession streams full-refresh snapshots for subscribed instruments.
type MarketDataSession interface {
	Session
	Subscribe(inst domain.Instrument) error
	Unsubscribe(inst domain.Instrument) error
}

// EventSink receives inbound events. Offer must not block.
type EventSink interface {
	Offer(ev event.Event) bool
}

// Journal persists execution reports for resend requests.
type Journal interface {
	SaveEvent(ctx context.Context, stream string, ev event.Event) error
	LoadEvents(ctx context.Context, stream string, fromSeq, toSeq uint64) ([]event.Event, error)
}
