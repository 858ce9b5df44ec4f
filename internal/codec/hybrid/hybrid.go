// Package hybrid composes run-length and delta decoding.
//
// A full-frame payload is run-length compressed pixels. A delta payload is a
// run-length compressed edit list: it is expanded into a transient
// frame-sized block first, then applied to the previous frame.
package hybrid

import (
	"errors"
	"fmt"

	"github.com/danmuck/inkframe/internal/codec/delta"
	"github.com/danmuck/inkframe/internal/codec/rle"
	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/heap"
)

var ErrShortFrame = errors.New("hybrid: expansion does not fill the frame")

// Decode reconstructs dst from payload. prev is the previous frame and is
// only read when isDelta is set; it may alias dst.
func Decode(alloc heap.Allocator, dst, prev, payload []byte, isDelta bool, y *coop.Yielder) error {
	if !isDelta {
		n, err := rle.Decode(dst, payload, y)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, n, len(dst))
		}
		return nil
	}

	return decodeDelta(alloc, dst, prev, payload, y)
}

func decodeDelta(alloc heap.Allocator, dst, prev, payload []byte, y *coop.Yielder) (err error) {
	block, err := alloc.Alloc(len(dst))
	if err != nil {
		return fmt.Errorf("hybrid: transient buffer: %w", err)
	}
	// block never leaves this function; Release runs once, here.
	defer func() {
		if rerr := block.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("hybrid: release transient buffer: %w", rerr)
		}
	}()

	edits := block.Bytes()
	n, err := rle.Decode(edits, payload, y)
	if err != nil {
		return err
	}
	if aliased(dst, prev) {
		// dst already holds prev; edits go straight into it
		return delta.DecodeStream(delta.Frame(dst), edits[:n], prev, y)
	}
	return delta.Decode(dst, edits[:n], prev, y)
}

func aliased(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}
