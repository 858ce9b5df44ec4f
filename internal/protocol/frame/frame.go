package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/inkframe/internal/protocol"
)

const (
	Magic     byte = 0xA5
	HeaderLen      = 8
	ReplyLen       = HeaderLen + 1

	StatusRejected byte = 0
	StatusOK       byte = 1
)

// PacketType tags the payload class.
type PacketType uint8

const (
	TypeFull  PacketType = 0x01
	TypeTile  PacketType = 0x02
	TypeDelta PacketType = 0x03
	TypeCmd   PacketType = 0x04
	TypeAck   PacketType = 0x10
	TypeNak   PacketType = 0x11
)

func (t PacketType) String() string {
	switch t {
	case TypeFull:
		return "FULL"
	case TypeTile:
		return "TILE"
	case TypeDelta:
		return "DELTA"
	case TypeCmd:
		return "CMD"
	case TypeAck:
		return "ACK"
	case TypeNak:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// IsDelta reports whether the payload is a run-length compressed edit list
// rather than run-length compressed pixels.
func (t PacketType) IsDelta() bool {
	return t == TypeDelta
}

// TypeName is the diagnostic name of a raw type byte.
func TypeName(t uint8) string {
	return PacketType(t).String()
}

// Header is the fixed wire header.
type Header struct {
	Magic  uint8
	Type   PacketType
	Seq    uint16
	Length uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", h.Type, h.Seq, h.Length)
}

// ParseHeader decodes the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", protocol.ErrShortHeader, len(b))
	}
	if b[0] != Magic {
		return Header{}, fmt.Errorf("%w: 0x%02X", protocol.ErrInvalidMagic, b[0])
	}
	return Header{
		Magic:  b[0],
		Type:   PacketType(b[1]),
		Seq:    binary.LittleEndian.Uint16(b[2:4]),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// EncodeHeader serializes h; the magic byte is always written as Magic.
func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), h)
}

func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, Magic, byte(h.Type))
	dst = binary.LittleEndian.AppendUint16(dst, h.Seq)
	dst = binary.LittleEndian.AppendUint32(dst, h.Length)
	return dst
}

// AppendReply appends a control reply: a header with Length 1 followed by
// the status byte.
func AppendReply(dst []byte, t PacketType, seq uint16, status byte) []byte {
	dst = AppendHeader(dst, Header{Type: t, Seq: seq, Length: 1})
	return append(dst, status)
}

func BuildAck(seq uint16) [ReplyLen]byte {
	var out [ReplyLen]byte
	AppendReply(out[:0], TypeAck, seq, StatusOK)
	return out
}

func BuildNak(seq uint16) [ReplyLen]byte {
	var out [ReplyLen]byte
	AppendReply(out[:0], TypeNak, seq, StatusRejected)
	return out
}
