package book

import (
	"fmt"

	"cross_arb/internal/domain"
	"cross_arb/internal/event"
)

// Books holds one Book per configured instrument.
type Books struct {
	books map[domain.Instrument]*Book
}

// NewBooks creates an empty book for every instrument.
func NewBooks(instruments []domain.Instrument) *Books {
	bs := &Books{books: make(map[domain.Instrument]*Book, len(instruments))}
	for _, inst := range instruments {
		bs.books[inst] = New(inst)
	}
	return bs
}

// Get returns nil for an unknown instrument.
func (bs *Books) Get(inst domain.Instrument) *Book {
	return bs.books[inst]
}

// Apply routes a full refresh to its book.
func (bs *Books) Apply(md *event.MarketData) (*Book, error) {
	b, ok := bs.books[md.Instrument]
	if !ok {
		return nil, fmt.Errorf("no book for instrument %s", md.Instrument)
	}
	if err := b.Apply(md); err != nil {
		return nil, err
	}
	return b, nil
}

// Instruments lists the instruments with a book.
func (bs *Books) Instruments() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(bs.books))
	for inst := range bs.books {
		out = append(out, inst)
	}
	return out
}
