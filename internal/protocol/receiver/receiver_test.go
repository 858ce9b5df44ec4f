package receiver

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/heap"
	"github.com/danmuck/inkframe/internal/protocol"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/danmuck/inkframe/internal/testutil/fixture"
	"github.com/danmuck/inkframe/internal/testutil/testlog"
)

func newReceiver(t *testing.T, capacity, margin int) (*Receiver, *heap.Arena) {
	t.Helper()
	arena := heap.NewArena(capacity)
	return New(Options{Heap: arena, SafetyMargin: margin, Logger: testlog.Logger(t)}), arena
}

func TestProcessCompletesExactlyAtLength(t *testing.T) {
	testlog.Start(t)
	header := []byte{frame.Magic, 1, 5, 0, 10, 0, 0, 0}
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	splits := [][]int{{10}, {1, 9}, {3, 3, 3, 1}, {1, 1, 1, 1, 1, 1, 1, 1, 1, 1}}
	for _, sizes := range splits {
		r, _ := newReceiver(t, 1024, 0)
		done, err := r.Process(header)
		if err != nil || done {
			t.Fatalf("header: done=%v err=%v", done, err)
		}
		if r.Header().Type != frame.TypeFull || r.Header().Seq != 5 || r.Header().Length != 10 {
			t.Fatalf("unexpected header: %+v", r.Header())
		}
		off := 0
		for i, n := range sizes {
			done, err = r.Process(payload[off : off+n])
			off += n
			if err != nil {
				t.Fatalf("chunk %d: %v", i, err)
			}
			if done != (off == len(payload)) {
				t.Fatalf("split %v chunk %d: done=%v after %d bytes", sizes, i, done, off)
			}
		}
		if !bytes.Equal(r.Payload(), payload) {
			t.Fatalf("payload got=%v", r.Payload())
		}
	}
}

func TestProcessHeaderAndPayloadInOneChunk(t *testing.T) {
	testlog.Start(t)
	r, _ := newReceiver(t, 1024, 0)
	pkt := fixture.Packet(frame.TypeCmd, 3, []byte{byte(frame.CmdClear)})
	done, err := r.Process(pkt)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if r.Phase() != ReceivingPayload || !bytes.Equal(r.Payload(), []byte{byte(frame.CmdClear)}) {
		t.Fatalf("phase=%v payload=%v", r.Phase(), r.Payload())
	}
}

func TestProcessDropsSurplusBytes(t *testing.T) {
	testlog.Start(t)
	r, _ := newReceiver(t, 1024, 0)
	pkt := append(fixture.Packet(frame.TypeFull, 1, []byte{1, 2}), 0xEE, 0xEE)
	done, err := r.Process(pkt)
	if err != nil || !done || !bytes.Equal(r.Payload(), []byte{1, 2}) {
		t.Fatalf("done=%v err=%v payload=%v", done, err, r.Payload())
	}
	done, err = r.Process([]byte{0xEE})
	if err != nil || !done || r.Received() != 2 {
		t.Fatalf("after complete: done=%v err=%v received=%d", done, err, r.Received())
	}
}

func TestProcessZeroLength(t *testing.T) {
	testlog.Start(t)
	r, arena := newReceiver(t, 64, 0)
	done, err := r.Process(fixture.Packet(frame.TypeCmd, 8, nil))
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if r.Payload() != nil || arena.Stats().Blocks != 0 {
		t.Fatalf("zero length packet must not allocate")
	}
}

func TestProcessShortChunkIsDiscarded(t *testing.T) {
	testlog.Start(t)
	r, _ := newReceiver(t, 64, 0)
	done, err := r.Process([]byte{frame.Magic, 1, 0, 0})
	if done || !errors.Is(err, protocol.ErrShortHeader) {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if r.Phase() != WaitingHeader {
		t.Fatalf("short chunk must not transition")
	}
	done, err = r.Process(fixture.Packet(frame.TypeFull, 1, []byte{7}))
	if err != nil || !done {
		t.Fatalf("next aligned header: done=%v err=%v", done, err)
	}
}

func TestProcessInvalidMagicKeepsState(t *testing.T) {
	testlog.Start(t)
	r, _ := newReceiver(t, 64, 0)
	bad := fixture.Packet(frame.TypeFull, 1, []byte{1})
	bad[0] = 0x00
	done, err := r.Process(bad)
	if done || !errors.Is(err, protocol.ErrInvalidMagic) || !protocol.IsFramingError(err) {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if r.Phase() != WaitingHeader || r.Received() != 0 {
		t.Fatalf("invalid header must not transition")
	}
}

func TestProcessRejectsInsufficientHeap(t *testing.T) {
	testlog.Start(t)
	r, arena := newReceiver(t, 100, 20)
	done, err := r.Process([]byte{frame.Magic, byte(frame.TypeFull), 9, 0, 81, 0, 0, 0})
	if done || !errors.Is(err, protocol.ErrOutOfMemory) {
		t.Fatalf("done=%v err=%v", done, err)
	}
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Header.Seq != 9 {
		t.Fatalf("expected RejectError for seq 9, got %v", err)
	}
	if r.Phase() != WaitingHeader || arena.Stats().Blocks != 0 {
		t.Fatalf("rejection must not transition or allocate")
	}
	if done, err := r.Process(fixture.Packet(frame.TypeFull, 10, make([]byte, 79))); err != nil || !done {
		t.Fatalf("length below budget: done=%v err=%v", done, err)
	}
}

func TestProcessRejectsFragmentedHeap(t *testing.T) {
	testlog.Start(t)
	r, arena := newReceiver(t, 200, 10)
	a, _ := arena.Alloc(90)
	pin, _ := arena.Alloc(10)
	_ = a.Release()
	defer pin.Release()
	if arena.Free() != 190 || arena.LargestFree() != 100 {
		t.Fatalf("setup: free=%d largest=%d", arena.Free(), arena.LargestFree())
	}

	done, err := r.Process([]byte{frame.Magic, byte(frame.TypeFull), 1, 0, 120, 0, 0, 0})
	if done || !errors.Is(err, protocol.ErrFragmentedMemory) || !protocol.IsMemoryError(err) {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if errors.Is(err, protocol.ErrOutOfMemory) {
		t.Fatalf("fragmentation must be distinct from exhaustion: %v", err)
	}
	if r.Phase() != WaitingHeader {
		t.Fatalf("rejection must not transition")
	}
}

func TestResetReleasesOwnedBuffer(t *testing.T) {
	testlog.Start(t)
	r, arena := newReceiver(t, 256, 0)
	if _, err := r.Process(fixture.Packet(frame.TypeFull, 1, make([]byte, 100))[:50]); err != nil {
		t.Fatalf("process: %v", err)
	}
	if arena.Free() != 156 {
		t.Fatalf("payload should be allocated: free=%d", arena.Free())
	}
	r.Reset()
	if arena.Free() != 256 || r.Phase() != WaitingHeader || r.Received() != 0 {
		t.Fatalf("after reset free=%d phase=%v received=%d", arena.Free(), r.Phase(), r.Received())
	}
}

func TestExternalBufferIsNeverReleased(t *testing.T) {
	testlog.Start(t)
	r, arena := newReceiver(t, 256, 0)
	if _, err := r.Process(fixture.Packet(frame.TypeFull, 1, make([]byte, 64))[:20]); err != nil {
		t.Fatalf("process: %v", err)
	}
	ext := make([]byte, 32)
	r.SetExternalBuffer(ext)
	if arena.Free() != 256 {
		t.Fatalf("installing external buffer must release owned block: free=%d", arena.Free())
	}
	if r.Phase() != WaitingHeader {
		t.Fatalf("in-flight packet should be abandoned")
	}

	for seq := uint16(1); seq <= 3; seq++ {
		payload := bytes.Repeat([]byte{byte(seq)}, 16)
		done, err := r.Process(fixture.Packet(frame.TypeFull, seq, payload))
		if err != nil || !done {
			t.Fatalf("seq %d: done=%v err=%v", seq, done, err)
		}
		if &r.Payload()[0] != &ext[0] {
			t.Fatalf("payload must be received into the external buffer")
		}
		r.Reset()
		if !r.Borrowed() {
			t.Fatalf("reset must keep the borrowed buffer installed")
		}
	}
	if arena.Stats().Blocks != 0 {
		t.Fatalf("borrowed receive must not allocate")
	}
	r.Close()
	if !bytes.Equal(ext[:16], bytes.Repeat([]byte{3}, 16)) {
		t.Fatalf("caller buffer contents must survive close: %v", ext)
	}
}

func TestExternalBufferTooSmall(t *testing.T) {
	testlog.Start(t)
	r, _ := newReceiver(t, 256, 0)
	r.SetExternalBuffer(make([]byte, 4))
	_, err := r.Process(fixture.Packet(frame.TypeFull, 2, make([]byte, 5)))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	r.ClearExternalBuffer()
	if r.Borrowed() {
		t.Fatalf("external buffer should be cleared")
	}
	if done, err := r.Process(fixture.Packet(frame.TypeFull, 3, make([]byte, 5))); err != nil || !done {
		t.Fatalf("after clear: done=%v err=%v", done, err)
	}
}

func TestNoAllocatorRejects(t *testing.T) {
	testlog.Start(t)
	r := New(Options{})
	_, err := r.Process(fixture.Packet(frame.TypeFull, 1, []byte{1}))
	if !errors.Is(err, protocol.ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestCopyYieldsPeriodically(t *testing.T) {
	testlog.Start(t)
	calls := 0
	arena := heap.NewArena(4096)
	r := New(Options{Heap: arena, Yielder: &coop.Yielder{Every: 256, Yield: func() { calls++ }}})
	pkt := fixture.Packet(frame.TypeFull, 1, make([]byte, 2048))
	for _, c := range fixture.Split(pkt, 512) {
		if _, err := r.Process(c); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if calls != 8 {
		t.Fatalf("yield calls got=%d want=8", calls)
	}
}
