package display

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
)

// RefreshEvent records one Refresh call on a Memory panel.
type RefreshEvent struct {
	Region Region
	Mode   RefreshMode
}

// Memory is a Panel backed by a byte slice. It stands in for the SPI
// driver in tests and headless runs.
type Memory struct {
	mu       sync.Mutex
	geo      Geometry
	frame    []byte
	asleep   bool
	refreshs []RefreshEvent
}

func NewMemory(g Geometry) (*Memory, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	frame := make([]byte, g.FrameBytes())
	for i := range frame {
		frame[i] = White
	}
	return &Memory{geo: g, frame: frame}, nil
}

func (m *Memory) Geometry() Geometry {
	return m.geo
}

func (m *Memory) Framebuffer() []byte {
	return m.frame
}

func (m *Memory) Refresh(region Region, mode RefreshMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.asleep {
		return ErrAsleep
	}
	m.refreshs = append(m.refreshs, RefreshEvent{Region: region, Mode: mode})
	return nil
}

func (m *Memory) Sleep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asleep = true
	return nil
}

func (m *Memory) Wake() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asleep = false
	return nil
}

func (m *Memory) Asleep() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asleep
}

// Refreshes returns a copy of the refresh log.
func (m *Memory) Refreshes() []RefreshEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RefreshEvent(nil), m.refreshs...)
}

// Image converts a 1 bit per pixel frame (MSB first, 1 = white) into a
// grayscale image.
func Image(g Geometry, frame []byte) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	stride := g.RowBytes()
	for y := 0; y < g.Height; y++ {
		row := frame[y*stride : (y+1)*stride]
		for x := 0; x < g.Width; x++ {
			if row[x/8]&(0x80>>(x%8)) != 0 {
				img.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}
	return img
}

// WritePNG encodes a frame as PNG.
func WritePNG(w io.Writer, g Geometry, frame []byte) error {
	return png.Encode(w, Image(g, frame))
}
