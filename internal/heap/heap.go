// Package heap models the device heap the protocol layer allocates from.
//
// The budget that matters on the device is not only the free total but the
// largest contiguous free block: an allocation needs one unbroken span.
// Arena tracks both over a fixed-capacity slab.
package heap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOutOfMemory = errors.New("heap: insufficient free memory")
	ErrFragmented  = errors.New("heap: no contiguous block large enough")
	ErrDoubleFree  = errors.New("heap: block already released")
	ErrInvalidSize = errors.New("heap: invalid allocation size")
)

// Allocator is the capability the receiver and hybrid decoder draw payload
// and transient buffers from.
type Allocator interface {
	Free() int
	LargestFree() int
	Alloc(n int) (*Block, error)
}

// Stats is a point-in-time view of an allocator.
type Stats struct {
	Capacity    int `json:"capacity"`
	Free        int `json:"free"`
	LargestFree int `json:"largest_free"`
	Blocks      int `json:"blocks"`
}

// Check applies the allocation budget: free memory must exceed n plus the
// safety margin, and the largest free block must hold n bytes on its own.
func Check(a Allocator, n, margin int) error {
	if n < 0 || margin < 0 {
		return ErrInvalidSize
	}
	if free := a.Free(); free <= n+margin {
		return fmt.Errorf("%w: need %d (+%d margin), free %d", ErrOutOfMemory, n, margin, free)
	}
	if largest := a.LargestFree(); largest < n {
		return fmt.Errorf("%w: need %d, largest block %d", ErrFragmented, n, largest)
	}
	return nil
}

type span struct {
	off  int
	size int
}

// Arena is a first-fit allocator over one slab. Safe for concurrent use.
type Arena struct {
	mu     sync.Mutex
	slab   []byte
	free   []span // sorted by offset, coalesced
	blocks int
}

func NewArena(capacity int) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	a := &Arena{slab: make([]byte, capacity)}
	if capacity > 0 {
		a.free = []span{{off: 0, size: capacity}}
	}
	return a
}

func (a *Arena) Capacity() int {
	return len(a.slab)
}

func (a *Arena) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLocked()
}

func (a *Arena) LargestFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	largest := 0
	for _, s := range a.free {
		if s.size > largest {
			largest = s.size
		}
	}
	return largest
}

func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Capacity: len(a.slab), Free: a.freeLocked(), Blocks: a.blocks}
	for _, s := range a.free {
		if s.size > st.LargestFree {
			st.LargestFree = s.size
		}
	}
	return st
}

// Alloc carves n bytes from the first free span that fits. The returned
// bytes are zeroed.
func (a *Arena) Alloc(n int) (*Block, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}
	if n == 0 {
		return &Block{}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.free {
		if s.size < n {
			continue
		}
		if s.size == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{off: s.off + n, size: s.size - n}
		}
		a.blocks++
		data := a.slab[s.off : s.off+n : s.off+n]
		clear(data)
		return &Block{arena: a, off: s.off, data: data}, nil
	}
	if free := a.freeLocked(); free >= n {
		return nil, fmt.Errorf("%w: need %d, free %d", ErrFragmented, n, free)
	}
	return nil, fmt.Errorf("%w: need %d, free %d", ErrOutOfMemory, n, a.freeLocked())
}

func (a *Arena) release(b *Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size := len(b.data)
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off >= b.off })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{off: b.off, size: size}
	// coalesce with the following span, then with the preceding one
	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
	a.blocks--
}

func (a *Arena) freeLocked() int {
	total := 0
	for _, s := range a.free {
		total += s.size
	}
	return total
}

// Block is one allocation. Bytes is valid until Release.
type Block struct {
	arena    *Arena
	off      int
	data     []byte
	released bool
}

func (b *Block) Bytes() []byte {
	if b == nil || b.released {
		return nil
	}
	return b.data
}

func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Release returns the block to its arena. A second call reports
// ErrDoubleFree and changes nothing.
func (b *Block) Release() error {
	if b == nil {
		return nil
	}
	if b.released {
		return ErrDoubleFree
	}
	b.released = true
	if b.arena == nil || len(b.data) == 0 {
		return nil
	}
	b.arena.release(b)
	b.data = nil
	return nil
}
