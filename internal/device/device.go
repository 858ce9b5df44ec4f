package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/inkframe/internal/codec/rle"
	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/heap"
	"github.com/danmuck/inkframe/internal/observability"
	"github.com/danmuck/inkframe/internal/protocol"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/danmuck/inkframe/internal/protocol/receiver"
	"github.com/rs/zerolog"
)

// ActivityNotifier is told whenever bytes arrive from the link.
type ActivityNotifier interface {
	Touch()
}

type Options struct {
	ID           string
	Panel        display.Panel
	Heap         heap.Allocator
	Bands        int
	SafetyMargin int
	StreamWindow int
	Yielder      *coop.Yielder
	Activity     ActivityNotifier
	Logger       zerolog.Logger
	// RxBuffer, when set, is installed as the receiver's external payload
	// buffer instead of allocating per packet from Heap.
	RxBuffer []byte
}

// Stats is a snapshot of device counters.
type Stats struct {
	DeviceID      string     `json:"device_id"`
	Packets       uint64     `json:"packets"`
	Acked         uint64     `json:"acked"`
	Naked         uint64     `json:"naked"`
	Discarded     uint64     `json:"discarded"`
	MemoryRejects uint64     `json:"memory_rejects"`
	LastSeq       uint16     `json:"last_seq"`
	LastType      string     `json:"last_type"`
	LastError     string     `json:"last_error,omitempty"`
	Mode          string     `json:"refresh_mode"`
	Phase         string     `json:"receiver_phase"`
	Heap          heap.Stats `json:"heap"`
}

// Device is driven by one receive loop. Snapshot and Frame may be called
// concurrently from other goroutines; mu guards everything below it.
type Device struct {
	mu       sync.Mutex
	id       string
	rx       *receiver.Receiver
	heap     heap.Allocator
	panel    display.Panel
	bands    display.BandTable
	mode     display.RefreshMode
	window   int
	yield    *coop.Yielder
	activity ActivityNotifier
	log      zerolog.Logger
	stats    Stats
	reply    []byte
}

func New(opts Options) (*Device, error) {
	if opts.Panel == nil {
		return nil, errors.New("device: panel is required")
	}
	if opts.Heap == nil {
		return nil, errors.New("device: heap is required")
	}
	if opts.Bands == 0 {
		opts.Bands = 3
	}
	bands, err := opts.Panel.Geometry().Bands(opts.Bands)
	if err != nil {
		return nil, err
	}
	if opts.StreamWindow <= 0 {
		opts.StreamWindow = rle.DefaultWindow
	}
	logger := opts.Logger.With().Str("device", opts.ID).Logger()
	rx := receiver.New(receiver.Options{
		Heap:         opts.Heap,
		SafetyMargin: opts.SafetyMargin,
		Yielder:      opts.Yielder,
		Logger:       logger,
	})
	if opts.RxBuffer != nil {
		rx.SetExternalBuffer(opts.RxBuffer)
	}
	return &Device{
		id:       opts.ID,
		rx:       rx,
		heap:     opts.Heap,
		panel:    opts.Panel,
		bands:    bands,
		mode:     display.RefreshFull,
		window:   opts.StreamWindow,
		yield:    opts.Yielder,
		activity: opts.Activity,
		log:      logger.With().Str("component", "device").Logger(),
		stats:    Stats{DeviceID: opts.ID},
		reply:    make([]byte, 0, frame.ReplyLen),
	}, nil
}

// HandleChunk feeds one transport chunk through the receiver. When a
// packet completes or is rejected it returns the ACK/NAK bytes to send;
// the slice is reused by the next call. The error describes why a chunk
// was discarded or a packet NAKed and is informational.
func (d *Device) HandleChunk(chunk []byte) ([]byte, error) {
	if d.activity != nil {
		d.activity.Touch()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	done, err := d.rx.Process(chunk)
	if err != nil {
		return d.handleReceiveError(err)
	}
	if !done {
		return nil, nil
	}

	h := d.rx.Header()
	payload := d.rx.Payload()
	defer d.rx.Reset()

	switch h.Type {
	case frame.TypeAck, frame.TypeNak:
		d.log.Debug().Stringer("header", h).Msg("ignoring control reply from server")
		return nil, nil
	}

	start := time.Now()
	err = d.apply(h, payload)
	observability.RecordDecode(d.id, h.Type.String(), time.Since(start), err == nil)
	if err != nil {
		d.log.Warn().Err(err).Stringer("header", h).Msg("packet rejected")
		return d.finish(h, len(payload), err), err
	}
	d.log.Debug().Stringer("header", h).Dur("took", time.Since(start)).Msg("packet applied")
	return d.finish(h, len(payload), nil), nil
}

func (d *Device) handleReceiveError(err error) ([]byte, error) {
	var rej *receiver.RejectError
	if protocol.IsFramingError(err) || !errors.As(err, &rej) {
		reason := "short_header"
		if errors.Is(err, protocol.ErrInvalidMagic) {
			reason = "invalid_magic"
		}
		observability.RecordFramingError(d.id, reason)
		d.stats.Discarded++
		return nil, err
	}

	reason := "too_large"
	if protocol.IsMemoryError(err) {
		reason = "out_of_memory"
		if errors.Is(err, protocol.ErrFragmentedMemory) {
			reason = "fragmented"
		}
	}
	observability.RecordMemoryRejection(d.id, reason)
	d.stats.MemoryRejects++
	d.rx.Reset()
	return d.finish(rej.Header, 0, err), err
}

// finish records the outcome and builds the reply.
func (d *Device) finish(h frame.Header, payloadLen int, err error) []byte {
	d.stats.Packets++
	d.stats.LastSeq = h.Seq
	d.stats.LastType = h.Type.String()
	result := "ack"
	if err != nil {
		result = "nak"
		d.stats.Naked++
		d.stats.LastError = err.Error()
		d.reply = frame.AppendReply(d.reply[:0], frame.TypeNak, h.Seq, frame.StatusRejected)
	} else {
		d.stats.Acked++
		d.stats.LastError = ""
		d.reply = frame.AppendReply(d.reply[:0], frame.TypeAck, h.Seq, frame.StatusOK)
	}
	observability.RecordPacket(d.id, h.Type.String(), result, payloadLen)
	observability.RecordHeap(d.id, d.heap.Free(), d.heap.LargestFree())
	return d.reply
}

// Snapshot returns the current counters.
func (d *Device) Snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stats
	st.Mode = d.mode.String()
	st.Phase = d.rx.Phase().String()
	st.Heap = heap.Stats{Free: d.heap.Free(), LargestFree: d.heap.LargestFree()}
	if a, ok := d.heap.(*heap.Arena); ok {
		st.Heap = a.Stats()
	}
	return st
}

// Frame returns a copy of the frame buffer.
func (d *Device) Frame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.panel.Framebuffer()...)
}

func (d *Device) Geometry() display.Geometry {
	return d.panel.Geometry()
}

// Close releases receiver resources. The panel and any external receive
// buffer stay with their owners.
func (d *Device) Close() {
	d.rx.Close()
}

func (d *Device) String() string {
	return fmt.Sprintf("device %s", d.id)
}
