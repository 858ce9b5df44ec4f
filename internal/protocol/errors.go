package protocol

import (
	"errors"

	"github.com/danmuck/inkframe/internal/heap"
)

// Framing errors are recoverable by waiting for the next header-aligned
// chunk. Memory errors mean the packet should be NAKed.
var (
	ErrShortHeader      = errors.New("protocol: short header")
	ErrInvalidMagic     = errors.New("protocol: invalid magic")
	ErrPayloadTooLarge  = errors.New("protocol: payload larger than buffer")
	ErrOutOfMemory      = heap.ErrOutOfMemory
	ErrFragmentedMemory = heap.ErrFragmented
)

// IsMemoryError reports whether err is one of the heap budget failures.
func IsMemoryError(err error) bool {
	return errors.Is(err, ErrOutOfMemory) || errors.Is(err, ErrFragmentedMemory)
}

// IsFramingError reports whether err only means the chunk was not
// header-aligned; no reply should be sent.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrShortHeader) || errors.Is(err, ErrInvalidMagic)
}
