// Package rle expands (count, value) byte pairs.
//
// A pair with count 0 expands to nothing. Every loop here is bounded by the
// input position, never by expected output, so a stream of zero pairs
// terminates.
package rle

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/danmuck/inkframe/internal/coop"
)

// DefaultWindow is the streaming buffer size used by the device.
const DefaultWindow = 256

var (
	ErrTruncated     = errors.New("rle: input ends mid-pair")
	ErrOverflow      = errors.New("rle: expansion exceeds destination")
	ErrInvalidWindow = errors.New("rle: window must be at least 1 byte")
)

func checkPairs(src []byte) error {
	if len(src)%2 != 0 {
		return fmt.Errorf("%w: %d input bytes", ErrTruncated, len(src))
	}
	return nil
}

// Decode expands src into dst and returns the number of bytes written.
// A truncated input is rejected before anything is written. On overflow dst
// holds the pairs that fit completely.
func Decode(dst, src []byte, y *coop.Yielder) (int, error) {
	if err := checkPairs(src); err != nil {
		return 0, err
	}
	out := 0
	for in := 0; in < len(src); in += 2 {
		count, value := int(src[in]), src[in+1]
		if count > len(dst)-out {
			return out, fmt.Errorf("%w: pair at %d needs %d bytes, %d left", ErrOverflow, in, count, len(dst)-out)
		}
		run := dst[out : out+count]
		for i := range run {
			run[i] = value
		}
		out += count
		y.Add(2)
	}
	return out, nil
}

// SizeOnly returns the expanded length of src without writing anything.
func SizeOnly(src []byte) (int, error) {
	if err := checkPairs(src); err != nil {
		return 0, err
	}
	total := 0
	for in := 0; in < len(src); in += 2 {
		total += int(src[in])
	}
	return total, nil
}

// Chunks expands src lazily through a window of the given size. Each full
// window is yielded as it fills and any remainder is yielded last. The
// yielded slice is reused, so consumers must copy what they keep. A
// truncated input yields a single error before any data.
func Chunks(src []byte, window int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if window < 1 {
			yield(nil, ErrInvalidWindow)
			return
		}
		if err := checkPairs(src); err != nil {
			yield(nil, err)
			return
		}
		buf := make([]byte, window)
		n := 0
		for in := 0; in < len(src); in += 2 {
			count, value := int(src[in]), src[in+1]
			for count > 0 {
				fill := min(count, window-n)
				run := buf[n : n+fill]
				for i := range run {
					run[i] = value
				}
				n += fill
				count -= fill
				if n == window {
					if !yield(buf, nil) {
						return
					}
					n = 0
				}
			}
		}
		if n > 0 {
			yield(buf[:n], nil)
		}
	}
}

// DecodeStream expands src into w one window at a time and returns the
// total bytes delivered. It lets a frame larger than free memory be
// reconstructed straight into its destination.
func DecodeStream(w io.Writer, src []byte, window int, y *coop.Yielder) (int, error) {
	total := 0
	for chunk, err := range Chunks(src, window) {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += n
		if err != nil {
			return total, fmt.Errorf("rle: sink: %w", err)
		}
		y.Add(len(chunk))
	}
	return total, nil
}
