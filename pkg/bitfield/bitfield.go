// Package bitfield implements the fixed-size, MSB-first bitset used to
// track a peer's piece availability, wire-compatible with the bitfield
// message payload.
package bitfield

import (
	"bytes"
	"math/bits"
)

// Bitfield is a bitset backed directly by its wire encoding: byte i holds
// bits 8*i..8*i+7, most-significant bit first.
type Bitfield []byte

// New returns a zeroed bitfield sized to hold nbits bits.
func New(nbits int) Bitfield {
	if nbits <= 0 {
		return nil
	}
	return make(Bitfield, (nbits+7)/8)
}

// FromBytes returns a Bitfield holding a copy of b, as decoded from a
// bitfield message payload.
func FromBytes(b []byte) Bitfield {
	return append(Bitfield(nil), b...)
}

// Bytes returns a copy of the underlying bytes, suitable for encoding back
// into a bitfield message payload.
func (bf Bitfield) Bytes() []byte {
	return append([]byte(nil), bf...)
}

// Len returns the number of addressable bits.
func (bf Bitfield) Len() int { return len(bf) * 8 }

// bitPos splits a bit index into its containing byte and a mask for that
// bit within the byte. ok is false when index falls outside the bitfield.
func (bf Bitfield) bitPos(index int) (byteIndex int, mask byte, ok bool) {
	if index < 0 || index >= bf.Len() {
		return 0, 0, false
	}
	return index / 8, 1 << uint(7-index%8), true
}

// Has reports whether the bit at index is set. Out-of-range indices read
// as unset rather than panicking, since a peer's advertised piece count
// and this client's own piece count need not agree on every bitfield.
func (bf Bitfield) Has(index int) bool {
	i, mask, ok := bf.bitPos(index)
	if !ok {
		return false
	}
	return bf[i]&mask != 0
}

// Set marks the bit at index, reporting whether it flipped from clear.
func (bf Bitfield) Set(index int) bool {
	i, mask, ok := bf.bitPos(index)
	if !ok {
		return false
	}
	changed := bf[i]&mask == 0
	bf[i] |= mask
	return changed
}

// Clear unmarks the bit at index, reporting whether it flipped from set.
func (bf Bitfield) Clear(index int) bool {
	i, mask, ok := bf.bitPos(index)
	if !ok {
		return false
	}
	changed := bf[i]&mask != 0
	bf[i] &^= mask
	return changed
}

// Count returns the number of set bits.
func (bf Bitfield) Count() int {
	n := 0
	for _, b := range bf {
		n += bits.OnesCount8(b)
	}
	return n
}

// Equals reports whether bf and other hold identical bytes.
func (bf Bitfield) Equals(other Bitfield) bool {
	return bytes.Equal(bf, other)
}

// String returns a 0/1 bitstring, most-significant bit first, for logging.
func (bf Bitfield) String() string {
	var buf bytes.Buffer
	for i := 0; i < bf.Len(); i++ {
		if bf.Has(i) {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
	return buf.String()
}
