// Package coop provides the cooperative-yield hook used inside long copy and
// expansion loops so a watchdog deadline on the device is never missed.
package coop

import "runtime"

// DefaultEvery yields once per 512 input bytes during expansion.
const DefaultEvery = 512

// Yielder calls Yield once every Every ticks. A nil *Yielder is valid and
// never yields.
type Yielder struct {
	Every int
	Yield func()
	n     int
}

// New returns a Yielder that calls runtime.Gosched every k ticks.
func New(k int) *Yielder {
	return &Yielder{Every: k, Yield: runtime.Gosched}
}

// Tick counts one unit of work.
func (y *Yielder) Tick() {
	y.Add(1)
}

// Add counts n units of work, yielding once for each boundary crossed.
func (y *Yielder) Add(n int) {
	if y == nil || y.Every <= 0 || y.Yield == nil || n <= 0 {
		return
	}
	y.n += n
	for y.n >= y.Every {
		y.n -= y.Every
		y.Yield()
	}
}

// Span is the largest slice a copy loop should move between ticks.
func (y *Yielder) Span() int {
	if y == nil || y.Every <= 0 {
		return int(^uint(0) >> 1)
	}
	return y.Every
}
