package event

import (
	"encoding/json"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/orderid"
)

// Kind tags the closed set of inbound event types.
type Kind uint8

const (
	KindMarketData Kind = iota + 1
	KindExecReport
	KindSessionStatus
)

func (k Kind) String() string {
	switch k {
	case KindMarketData:
		return "MARKET_DATA"
	case KindExecReport:
		return "EXEC_REPORT"
	case KindSessionStatus:
		return "SESSION_STATUS"
	default:
		return "UNKNOWN"
	}
}

// Event is implemented by MarketData, ExecReport and SessionStatus only.
type Event interface {
	GetSeq() uint64
	GetRecvTime() time.Time
	IsPossDup() bool
	Kind() Kind
}

// BaseEvent contains common fields for all events. PossDup marks a
// retransmission from a resend request.
type BaseEvent struct {
	Seq      uint64    `json:"seq"`
	RecvTime time.Time `json:"recv_time"`
	PossDup  bool      `json:"poss_dup,omitempty"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetRecvTime() time.Time { return e.RecvTime }
func (e BaseEvent) IsPossDup() bool        { return e.PossDup }

// Level is one price level of a full refresh.
type Level struct {
	Side domain.Side `json:"side"`
	Px   float64     `json:"px"`
	Qty  float64     `json:"qty"`
}

// MarketData is a full-refresh snapshot that replaces both sides of a book.
type MarketData struct {
	BaseEvent
	Instrument domain.Instrument `json:"instrument"`
	SendTime   time.Time         `json:"send_time"`
	Levels     []Level           `json:"levels"`
}

func (*MarketData) Kind() Kind { return KindMarketData }

// ExecType is the transition carried by an execution report.
type ExecType uint8

const (
	ExecNew ExecType = iota + 1
	ExecPartialFill
	ExecFill
	ExecCanceled
	ExecRejected
	ExecPendingCancel
)

func (t ExecType) String() string {
	switch t {
	case ExecNew:
		return "NEW"
	case ExecPartialFill:
		return "PARTIAL_FILL"
	case ExecFill:
		return "FILL"
	case ExecCanceled:
		return "CANCELED"
	case ExecRejected:
		return "REJECTED"
	case ExecPendingCancel:
		return "PENDING_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// ExecReport is an order state transition or fill from the execution venue.
type ExecReport struct {
	BaseEvent
	ExecID      string            `json:"exec_id"`
	ClOrdID     orderid.ClOrdID   `json:"-"`
	OrigClOrdID orderid.ClOrdID   `json:"-"`
	Instrument  domain.Instrument `json:"instrument"`
	Side        domain.Side       `json:"side"`
	ExecType    ExecType          `json:"exec_type"`
	LastQty     float64           `json:"last_qty"`
	LastPx      float64           `json:"last_px"`
	CumQty      float64           `json:"cum_qty"`
	AvgPx       float64           `json:"avg_px"`
	Text        string            `json:"text,omitempty"`
}

func (*ExecReport) Kind() Kind { return KindExecReport }

// Source identifies which session a status notice came from.
type Source uint8

const (
	SourceMarketData Source = iota + 1
	SourceExec
)

func (s Source) String() string {
	switch s {
	case SourceMarketData:
		return "MARKET_DATA"
	case SourceExec:
		return "EXEC"
	default:
		return "UNKNOWN"
	}
}

// SessionStatus reports a trading-session state change (logout, halt).
type SessionStatus struct {
	BaseEvent
	Source Source `json:"source"`
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
}

func (*SessionStatus) Kind() Kind { return KindSessionStatus }

type execReportAlias ExecReport

type execReportJSON struct {
	*execReportAlias
	ClOrdID     string `json:"cl_ord_id"`
	OrigClOrdID string `json:"orig_cl_ord_id,omitempty"`
}

// MarshalJSON writes both identifier variants as plain strings.
func (e *ExecReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(execReportJSON{
		execReportAlias: (*execReportAlias)(e),
		ClOrdID:         idString(e.ClOrdID),
		OrigClOrdID:     idString(e.OrigClOrdID),
	})
}

// UnmarshalJSON restores identifiers with orderid.ParseClOrdID.
func (e *ExecReport) UnmarshalJSON(b []byte) error {
	aux := execReportJSON{execReportAlias: (*execReportAlias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.ClOrdID = orderid.ParseClOrdID(aux.ClOrdID)
	e.OrigClOrdID = orderid.ParseClOrdID(aux.OrigClOrdID)
	return nil
}

func idString(id orderid.ClOrdID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
