package domain

import (
	"fmt"
	"strings"
)

// Ccy is a currency code, e.g. "BTC".
type Ccy string

// Instrument is a tradeable currency pair. Base is the currency being bought or
// sold and Quote is the pricing currency. Comparable, used as a map key.
type Instrument struct {
	Base  Ccy `json:"base" yaml:"base"`
	Quote Ccy `json:"quote" yaml:"quote"`
}

// ParseInstrument parses "BASE/QUOTE".
func ParseInstrument(s string) (Instrument, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return Instrument{}, fmt.Errorf("invalid instrument %q: expected BASE/QUOTE", s)
	}
	return Instrument{Base: Ccy(strings.ToUpper(base)), Quote: Ccy(strings.ToUpper(quote))}, nil
}

// MustInstrument is ParseInstrument that panics on error. For tests and literals.
func MustInstrument(s string) Instrument {
	inst, err := ParseInstrument(s)
	if err != nil {
		panic(err)
	}
	return inst
}

func (i Instrument) String() string {
	return string(i.Base) + "/" + string(i.Quote)
}

func (i Instrument) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Instrument) UnmarshalText(b []byte) error {
	parsed, err := ParseInstrument(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
