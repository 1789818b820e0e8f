package orderid

// ClOrdID is a client order identifier. It is either a codec ID minted by
// this engine or an External identifier received from elsewhere (manual
// orders, orders from a previous session). The set of variants is closed.
type ClOrdID interface {
	String() string
	isClOrdID()
}

// External is a free-form identifier that did not come from the codec.
type External string

func (e External) String() string { return string(e) }

func (External) isClOrdID() {}

// ParseClOrdID returns the codec variant when s is a valid encoded ID and an
// External otherwise. Empty input yields nil.
func ParseClOrdID(s string) ClOrdID {
	if s == "" {
		return nil
	}
	if id, err := Parse(s); err == nil {
		return id
	}
	return External(s)
}

// CancelIDFor derives the cancel request identifier for an order.
func CancelIDFor(id ClOrdID) ClOrdID {
	switch v := id.(type) {
	case ID:
		return v.CancelID()
	case External:
		return External(string(v) + "_cxl")
	default:
		return nil
	}
}
