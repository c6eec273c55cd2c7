// Package fragment implements the BLE fragment codec: splitting an
// upper-stack packet into fixed-header fragments for a negotiated MTU, and
// reassembling fragments back into a packet.
//
// Only the explicit typed header is implemented (type/seq/total); a
// legacy single-byte-seq encoding is incompatible and intentionally not
// supported.
package fragment

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the on-wire fragment header width in bytes.
const HeaderSize = 5

// MinMTU is the minimum supported BLE ATT MTU.
const MinMTU = 23

// MaxFragments bounds the fragment count a 16-bit seq/total field can carry.
const MaxFragments = 65535

const (
	flagStart byte = 1 << 0
	flagEnd   byte = 1 << 1
)

var (
	// ErrMtuTooSmall is returned by Encode when mtu < MinMTU.
	ErrMtuTooSmall = errors.New("fragment: mtu too small")
	// ErrPacketTooLarge is returned by Encode when the packet needs more
	// than MaxFragments fragments at the given mtu.
	ErrPacketTooLarge = errors.New("fragment: packet too large for mtu")
	// ErrShortFragment is returned when a wire buffer is shorter than HeaderSize.
	ErrShortFragment = errors.New("fragment: buffer shorter than header")
)

// Fragment is one on-wire unit of a larger packet.
type Fragment struct {
	Start   bool
	End     bool
	Seq     uint16
	Total   uint16
	Payload []byte
}

// Marshal renders a Fragment to its wire form.
func (f Fragment) Marshal() []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	var typ byte
	if f.Start {
		typ |= flagStart
	}
	if f.End {
		typ |= flagEnd
	}
	out[0] = typ
	binary.BigEndian.PutUint16(out[1:3], f.Seq)
	binary.BigEndian.PutUint16(out[3:5], f.Total)
	copy(out[HeaderSize:], f.Payload)
	return out
}

// Parse decodes a Fragment from its wire form.
func Parse(data []byte) (Fragment, error) {
	if len(data) < HeaderSize {
		return Fragment{}, ErrShortFragment
	}
	typ := data[0]
	f := Fragment{
		Start:   typ&flagStart != 0,
		End:     typ&flagEnd != 0,
		Seq:     binary.BigEndian.Uint16(data[1:3]),
		Total:   binary.BigEndian.Uint16(data[3:5]),
		Payload: append([]byte(nil), data[HeaderSize:]...),
	}
	return f, nil
}

// Encode splits packet into fragments sized to fit the given BLE ATT mtu.
// A zero-length packet still produces exactly one fragment with both
// Start and End set and an empty payload.
func Encode(packet []byte, mtu int) ([]Fragment, error) {
	if mtu < MinMTU {
		return nil, ErrMtuTooSmall
	}
	payloadSize := mtu - HeaderSize

	n := (len(packet) + payloadSize - 1) / payloadSize
	if n == 0 {
		n = 1
	}
	if n > MaxFragments {
		return nil, ErrPacketTooLarge
	}

	frags := make([]Fragment, n)
	for i := 0; i < n; i++ {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(packet) {
			end = len(packet)
		}
		frags[i] = Fragment{
			Start:   i == 0,
			End:     i == n-1,
			Seq:     uint16(i),
			Total:   uint16(n),
			Payload: packet[start:end],
		}
	}
	return frags, nil
}
