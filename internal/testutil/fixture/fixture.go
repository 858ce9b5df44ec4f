// Package fixture builds wire inputs for tests: run-length streams, delta
// edit lists and whole packets. The device never encodes, so none of this
// ships in the receive path.
package fixture

import (
	"encoding/binary"

	"github.com/danmuck/inkframe/internal/protocol/frame"
)

// RLE encodes data as (count, value) pairs with runs capped at 255.
func RLE(data []byte) []byte {
	out := make([]byte, 0, len(data)/2+2)
	for i := 0; i < len(data); {
		value := data[i]
		count := 1
		for i+count < len(data) && data[i+count] == value && count < 255 {
			count++
		}
		out = append(out, byte(count), value)
		i += count
	}
	return out
}

// Edit is one delta record before encoding.
type Edit struct {
	Offset uint32
	Data   []byte
}

// Delta encodes records as (offset u32 LE, length u8, bytes).
func Delta(edits ...Edit) []byte {
	var out []byte
	for _, e := range edits {
		out = binary.LittleEndian.AppendUint32(out, e.Offset)
		out = append(out, byte(len(e.Data)))
		out = append(out, e.Data...)
	}
	return out
}

// Diff produces the delta records that turn prev into next, splitting
// changed runs at 255 bytes.
func Diff(prev, next []byte) []Edit {
	var edits []Edit
	for i := 0; i < len(next); {
		if i < len(prev) && prev[i] == next[i] {
			i++
			continue
		}
		start := i
		for i < len(next) && (i >= len(prev) || prev[i] != next[i]) && i-start < 255 {
			i++
		}
		edits = append(edits, Edit{Offset: uint32(start), Data: append([]byte(nil), next[start:i]...)})
	}
	return edits
}

// Packet is header plus payload.
func Packet(t frame.PacketType, seq uint16, payload []byte) []byte {
	out := frame.AppendHeader(nil, frame.Header{Type: t, Seq: seq, Length: uint32(len(payload))})
	return append(out, payload...)
}

// Split cuts b into pieces of at most n bytes.
func Split(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > n {
		out = append(out, b[:n])
		b = b[n:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}
