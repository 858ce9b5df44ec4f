// Package delta applies sparse edit lists to a base frame.
//
// An edit list is a sequence of records (offset u32 LE, length u8,
// bytes[length]) with no header or terminator. Each record is validated
// before it is written; a failure leaves earlier records applied and the
// failing record unwritten.
package delta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/danmuck/inkframe/internal/coop"
)

// RecordHeaderLen is offset plus length.
const RecordHeaderLen = 5

var (
	ErrCorruptDelta    = errors.New("delta: corrupt edit list")
	ErrTruncatedRecord = fmt.Errorf("%w: truncated record", ErrCorruptDelta)
	ErrOutOfBounds     = fmt.Errorf("%w: record outside frame", ErrCorruptDelta)
	ErrFrameSize       = errors.New("delta: base and output frame sizes differ")
)

// Edit is one validated record. Data aliases the edit list.
type Edit struct {
	Offset uint32
	Data   []byte
}

// EditSink receives edits one at a time, e.g. straight into display memory.
type EditSink interface {
	ApplyEdit(offset uint32, data []byte) error
}

// EditFunc adapts a function to EditSink.
type EditFunc func(offset uint32, data []byte) error

func (f EditFunc) ApplyEdit(offset uint32, data []byte) error {
	return f(offset, data)
}

// Frame writes edits into a byte slice in place.
type Frame []byte

func (f Frame) ApplyEdit(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(f)) {
		return fmt.Errorf("%w: offset %d len %d frame %d", ErrOutOfBounds, offset, len(data), len(f))
	}
	copy(f[offset:], data)
	return nil
}

// Edits walks the edit list lazily, validating each record against
// frameSize. It stops after the first error.
func Edits(delta []byte, frameSize int) iter.Seq2[Edit, error] {
	return func(yield func(Edit, error) bool) {
		pos := 0
		for pos < len(delta) {
			if len(delta)-pos < RecordHeaderLen {
				yield(Edit{}, fmt.Errorf("%w: header at %d needs %d bytes, %d left", ErrTruncatedRecord, pos, RecordHeaderLen, len(delta)-pos))
				return
			}
			offset := binary.LittleEndian.Uint32(delta[pos : pos+4])
			length := int(delta[pos+4])
			pos += RecordHeaderLen
			if len(delta)-pos < length {
				yield(Edit{}, fmt.Errorf("%w: payload at %d needs %d bytes, %d left", ErrTruncatedRecord, pos, length, len(delta)-pos))
				return
			}
			if uint64(offset)+uint64(length) > uint64(frameSize) {
				yield(Edit{}, fmt.Errorf("%w: offset %d len %d frame %d", ErrOutOfBounds, offset, length, frameSize))
				return
			}
			if !yield(Edit{Offset: offset, Data: delta[pos : pos+length]}, nil) {
				return
			}
			pos += length
		}
	}
}

// Decode copies base into dst and applies every record of delta to dst.
// dst and base must be the same size; they may be the same slice.
func Decode(dst, delta, base []byte, y *coop.Yielder) error {
	if len(base) != len(dst) {
		return fmt.Errorf("%w: base %d output %d", ErrFrameSize, len(base), len(dst))
	}
	copy(dst, base)
	for e, err := range Edits(delta, len(dst)) {
		if err != nil {
			return err
		}
		copy(dst[e.Offset:], e.Data)
		y.Add(RecordHeaderLen + len(e.Data))
	}
	return nil
}

// DecodeStream validates each record against len(base) and hands it to
// sink without materializing a new frame.
func DecodeStream(sink EditSink, delta, base []byte, y *coop.Yielder) error {
	for e, err := range Edits(delta, len(base)) {
		if err != nil {
			return err
		}
		if err := sink.ApplyEdit(e.Offset, e.Data); err != nil {
			return fmt.Errorf("delta: sink at offset %d: %w", e.Offset, err)
		}
		y.Add(RecordHeaderLen + len(e.Data))
	}
	return nil
}
