// Package orderid mints compact client order identifiers from wall-clock time.
//
// An ID is eight printable symbols drawn from [0-9a-zA-Z]:
//
//	b1      hour (0-9, a-n)
//	b2, b3  minute and second (0-9, a-z, A-X)
//	b4..b7  the four bytes of the nanosecond field, folded into the alphabet
//	b8      '0' for orders, 'X' for cancel requests
package orderid

import (
	"errors"
	"fmt"
	"time"
)

// Len is the fixed length of an encoded ID.
const Len = 8

const (
	orderMarker  = '0'
	cancelMarker = 'X'
)

var (
	// ErrInvalidID is returned when a string is not a valid encoded ID.
	ErrInvalidID = errors.New("invalid order id")
	// ErrInvalidOffset is returned for offsets outside [0, MaxOffset].
	ErrInvalidOffset = errors.New("invalid order id offset")
)

var alphabet = func() [62]byte {
	var a [62]byte
	i := 0
	for c := byte('0'); c <= '9'; c++ {
		a[i] = c
		i++
	}
	for c := byte('a'); c <= 'z'; c++ {
		a[i] = c
		i++
	}
	for c := byte('A'); c <= 'Z'; c++ {
		a[i] = c
		i++
	}
	return a
}()

// ID is a codec-generated client order identifier. The zero value is not valid.
type ID [Len]byte

// MaxOffset is the largest offset NewWithOffset accepts.
const MaxOffset = len(alphabet) - 1

// New mints the ID for t.
func New(t time.Time) ID {
	id, _ := NewWithOffset(t, 0)
	return id
}

// NewPair mints two distinct IDs for t, used for the buy and sell legs of
// one entry.
func NewPair(t time.Time) (ID, ID) {
	return New(t), MustNewWithOffset(t, 1)
}

// NewWithOffset mints the ID for t with byte 7 rotated offset symbols through
// the alphabet. IDs minted in the same nanosecond with different offsets in
// [0, MaxOffset] never collide.
func NewWithOffset(t time.Time, offset int) (ID, error) {
	var id ID
	if offset < 0 || offset > MaxOffset {
		return id, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidOffset, offset, MaxOffset)
	}
	id[0] = encodeHour(t.Hour())
	id[1] = encodeSexagesimal(t.Minute())
	id[2] = encodeSexagesimal(t.Second())

	nanos := int32(t.Nanosecond())
	id[3] = fold(int8(nanos >> 24))
	id[4] = fold(int8(nanos >> 16))
	id[5] = fold(int8(nanos >> 8))
	id[6] = fold(int8(nanos))
	if offset > 0 {
		id[6] = alphabet[(symbolIndex(id[6])+offset)%len(alphabet)]
	}

	id[7] = orderMarker
	return id, nil
}

// MustNewWithOffset is like NewWithOffset but panics on an invalid offset.
func MustNewWithOffset(t time.Time, offset int) ID {
	id, err := NewWithOffset(t, offset)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse decodes s into an ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != Len {
		return id, fmt.Errorf("%w: %q has length %d", ErrInvalidID, s, len(s))
	}
	for i := 0; i < Len; i++ {
		if !valid(s[i]) {
			return id, fmt.Errorf("%w: %q has invalid symbol at %d", ErrInvalidID, s, i)
		}
		id[i] = s[i]
	}
	return id, nil
}

// IsValid reports whether s parses as an ID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func (id ID) String() string { return string(id[:]) }

// CancelID derives the identifier of a cancel request for this order.
func (id ID) CancelID() ID {
	id[7] = cancelMarker
	return id
}

// IsCancel reports whether id was derived with CancelID.
func (id ID) IsCancel() bool { return id[7] == cancelMarker }

func (ID) isClOrdID() {}

func valid(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func encodeHour(h int) byte {
	if h < 10 {
		return byte('0' + h)
	}
	return byte('a' + h - 10)
}

func encodeSexagesimal(v int) byte {
	switch {
	case v < 10:
		return byte('0' + v)
	case v < 36:
		return byte('a' + v - 10)
	default:
		return byte('A' + v - 36)
	}
}

// fold maps an arbitrary signed byte onto the alphabet. Bytes that are already
// symbols are kept as is.
func fold(b int8) byte {
	if b >= 0 && valid(byte(b)) {
		return byte(b)
	}
	if b < 0 {
		if b > -128 {
			b = -b
		} else {
			b = 127
		}
	}
	var n int8
	switch {
	case b < '0':
		n = b
	case b < 'A':
		n = b - 10
	case b < 'a':
		n = b - 36
	default:
		n = b - 52
	}
	return alphabet[int(n)%52]
}

func symbolIndex(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'z':
		return int(b-'a') + 10
	default:
		return int(b-'A') + 36
	}
}

// MarshalText encodes the ID as its eight symbols.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes an encoded ID.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
