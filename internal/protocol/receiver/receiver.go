// Package receiver assembles length-prefixed packets from arbitrarily
// chunked input.
//
// The receiver has two phases. In WaitingHeader a chunk must start with a
// complete header; a header split across chunks is not reassembled and the
// chunk is discarded. In ReceivingPayload bytes are copied until the
// declared length is reached.
//
// The payload buffer is either owned (a heap block allocated per packet
// after a budget check) or borrowed (a caller slice installed with
// SetExternalBuffer). Release decisions are made from that tag alone; a
// borrowed slice is never released or replaced by the receiver.
package receiver

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/heap"
	"github.com/danmuck/inkframe/internal/protocol"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// DefaultSafetyMargin is the free heap that must remain after a payload
// allocation.
const DefaultSafetyMargin = 8000

type Phase int

const (
	WaitingHeader Phase = iota
	ReceivingPayload
)

func (p Phase) String() string {
	switch p {
	case WaitingHeader:
		return "waiting_header"
	case ReceivingPayload:
		return "receiving_payload"
	default:
		return "unknown"
	}
}

// RejectError is returned when a valid header was parsed but its payload
// cannot be accepted. Header carries the sequence number to NAK.
type RejectError struct {
	Header frame.Header
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("receiver: reject %s: %v", e.Header, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

type ownership int

const (
	unset ownership = iota
	owned
	borrowed
)

type payloadBuffer struct {
	kind  ownership
	block *heap.Block
	data  []byte
}

// Options configures a Receiver. Heap is required unless every packet is
// received into an external buffer.
type Options struct {
	Heap         heap.Allocator
	SafetyMargin int
	Yielder      *coop.Yielder
	Logger       zerolog.Logger
}

// Receiver is not safe for concurrent use; it is driven by the single
// receive loop.
type Receiver struct {
	heap   heap.Allocator
	margin int
	yield  *coop.Yielder
	log    zerolog.Logger

	phase    Phase
	header   frame.Header
	buf      payloadBuffer
	received int
}

func New(opts Options) *Receiver {
	margin := opts.SafetyMargin
	if margin < 0 {
		margin = 0
	}
	return &Receiver{
		heap:   opts.Heap,
		margin: margin,
		yield:  opts.Yielder,
		log:    opts.Logger.With().Str("component", "receiver").Logger(),
	}
}

func (r *Receiver) Phase() Phase {
	return r.phase
}

// Header is the header of the packet in progress; zero in WaitingHeader.
func (r *Receiver) Header() frame.Header {
	return r.header
}

func (r *Receiver) Received() int {
	return r.received
}

// Borrowed reports whether an external buffer is installed.
func (r *Receiver) Borrowed() bool {
	return r.buf.kind == borrowed
}

// Payload returns the bytes received so far for the current packet. The
// slice is valid until Reset.
func (r *Receiver) Payload() []byte {
	if r.phase != ReceivingPayload || r.received == 0 {
		return nil
	}
	return r.buf.data[:r.received]
}

// Process consumes one chunk and reports whether the current packet is
// complete. Errors never change the phase: framing errors mean the chunk
// was dropped, and a *RejectError means the header was valid but the
// payload could not be accepted.
func (r *Receiver) Process(chunk []byte) (bool, error) {
	if r.phase == ReceivingPayload {
		remaining := int(r.header.Length) - r.received
		n := min(len(chunk), remaining)
		if len(chunk) > n {
			r.log.Debug().Int("dropped", len(chunk)-n).Uint16("seq", r.header.Seq).Msg("surplus bytes after payload")
		}
		r.copyIn(chunk[:n])
		return r.received == int(r.header.Length), nil
	}

	h, err := frame.ParseHeader(chunk)
	if err != nil {
		r.log.Debug().Err(err).Int("chunk", len(chunk)).Msg("discarding chunk")
		return false, err
	}
	if err := r.prepare(h); err != nil {
		return false, &RejectError{Header: h, Err: err}
	}

	r.header = h
	r.received = 0
	r.phase = ReceivingPayload
	body := chunk[frame.HeaderLen:]
	if len(body) > int(h.Length) {
		r.log.Debug().Int("dropped", len(body)-int(h.Length)).Uint16("seq", h.Seq).Msg("surplus bytes after payload")
		body = body[:h.Length]
	}
	r.copyIn(body)
	r.log.Trace().Stringer("header", h).Int("received", r.received).Msg("header accepted")
	return r.received == int(h.Length), nil
}

// prepare makes sure a buffer of h.Length bytes is available.
func (r *Receiver) prepare(h frame.Header) error {
	if uint64(h.Length) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, h.Length)
	}
	n := int(h.Length)
	if n == 0 {
		return nil
	}
	switch r.buf.kind {
	case borrowed:
		if n > len(r.buf.data) {
			r.log.Warn().Int("need", n).Int("buffer", len(r.buf.data)).Msg("payload larger than external buffer")
			return fmt.Errorf("%w: need %d, external buffer %d", protocol.ErrPayloadTooLarge, n, len(r.buf.data))
		}
		return nil
	case owned:
		r.release()
	}
	if r.heap == nil {
		return fmt.Errorf("%w: no allocator", protocol.ErrOutOfMemory)
	}

	if err := heap.Check(r.heap, n, r.margin); err != nil {
		ev := r.log.Warn().Int("need", n).Int("margin", r.margin).Int("free", r.heap.Free()).Int("largest", r.heap.LargestFree())
		if errors.Is(err, heap.ErrFragmented) {
			ev.Msg("heap fragmented")
		} else {
			ev.Msg("insufficient heap")
		}
		return err
	}
	block, err := r.heap.Alloc(n)
	if err != nil {
		r.log.Error().Err(err).Int("need", n).Msg("payload allocation failed")
		return err
	}
	r.buf = payloadBuffer{kind: owned, block: block, data: block.Bytes()}
	r.log.Debug().Int("bytes", n).Int("free", r.heap.Free()).Msg("payload allocated")
	return nil
}

// copyIn appends b to the payload in spans, ticking the yielder between
// spans.
func (r *Receiver) copyIn(b []byte) {
	span := r.yield.Span()
	for len(b) > 0 {
		n := min(len(b), span)
		copy(r.buf.data[r.received:], b[:n])
		r.received += n
		b = b[n:]
		r.yield.Add(n)
	}
}

func (r *Receiver) release() {
	if r.buf.kind != owned {
		return
	}
	if err := r.buf.block.Release(); err != nil {
		r.log.Error().Err(err).Msg("payload release")
	}
	r.buf = payloadBuffer{}
}

// Reset returns to WaitingHeader. An owned buffer is released; a borrowed
// one stays installed for the next packet.
func (r *Receiver) Reset() {
	r.release()
	r.phase = WaitingHeader
	r.header = frame.Header{}
	r.received = 0
}

// SetExternalBuffer installs a caller-owned payload buffer. Any owned
// buffer is released first and a packet in progress is abandoned.
func (r *Receiver) SetExternalBuffer(buf []byte) {
	r.Reset()
	r.buf = payloadBuffer{kind: borrowed, data: buf}
	r.log.Debug().Int("size", len(buf)).Msg("external buffer installed")
}

// ClearExternalBuffer drops the reference to a caller-owned buffer. A
// packet in progress is abandoned.
func (r *Receiver) ClearExternalBuffer() {
	if r.buf.kind != borrowed {
		return
	}
	r.Reset()
	r.buf = payloadBuffer{}
	r.log.Debug().Msg("external buffer cleared")
}

// Close releases an owned buffer. A borrowed buffer is left to its owner.
func (r *Receiver) Close() {
	r.Reset()
	r.buf = payloadBuffer{}
}
