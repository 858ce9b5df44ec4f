// Package display is the boundary to the e-paper panel. The panel owns the
// persistent frame buffer; the protocol layer only reads and writes it.
package display

import (
	"errors"
	"fmt"
)

// White is a fully white byte in a 1 bit per pixel frame.
const White byte = 0xFF

var (
	ErrInvalidGeometry = errors.New("display: invalid geometry")
	ErrUnknownBand     = errors.New("display: unknown band")
	ErrAsleep          = errors.New("display: panel is asleep")
)

// Geometry describes a 1 bit per pixel panel. Width must be a multiple of 8.
type Geometry struct {
	Width  int
	Height int
}

// DefaultGeometry is the 4.26" 800x480 panel.
func DefaultGeometry() Geometry {
	return Geometry{Width: 800, Height: 480}
}

func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || g.Width%8 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, g.Width, g.Height)
	}
	return nil
}

// RowBytes is the stride of one pixel row.
func (g Geometry) RowBytes() int {
	return g.Width / 8
}

// FrameBytes is the size of a whole frame buffer.
func (g Geometry) FrameBytes() int {
	return g.RowBytes() * g.Height
}

// Region is a band of whole rows.
type Region struct {
	Index  int
	Y      int
	Height int
	Offset int
	Size   int
}

func (r Region) String() string {
	return fmt.Sprintf("band %d rows [%d,%d)", r.Index, r.Y, r.Y+r.Height)
}

// Full covers the whole frame.
func (g Geometry) Full() Region {
	return Region{Index: -1, Y: 0, Height: g.Height, Offset: 0, Size: g.FrameBytes()}
}

// BandTable is the fixed set of horizontal bands TILE packets address.
type BandTable []Region

// Bands splits the height into n equal bands of whole rows. The last band
// absorbs any remainder.
func (g Geometry) Bands(n int) (BandTable, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if n < 1 || n > g.Height || n > 256 {
		return nil, fmt.Errorf("%w: %d bands over %d rows", ErrInvalidGeometry, n, g.Height)
	}
	rows := g.Height / n
	table := make(BandTable, n)
	for i := range table {
		h := rows
		if i == n-1 {
			h = g.Height - rows*(n-1)
		}
		y := i * rows
		table[i] = Region{
			Index:  i,
			Y:      y,
			Height: h,
			Offset: y * g.RowBytes(),
			Size:   h * g.RowBytes(),
		}
	}
	return table, nil
}

// Lookup returns the region for a wire band index.
func (t BandTable) Lookup(index uint8) (Region, error) {
	if int(index) >= len(t) {
		return Region{}, fmt.Errorf("%w: %d of %d", ErrUnknownBand, index, len(t))
	}
	return t[index], nil
}

// RefreshMode selects how the panel redraws.
type RefreshMode int

const (
	RefreshFull RefreshMode = iota
	RefreshPartial
)

func (m RefreshMode) String() string {
	if m == RefreshPartial {
		return "partial"
	}
	return "full"
}

// Panel is the display driver collaborator.
type Panel interface {
	Geometry() Geometry
	// Framebuffer is the persistent frame; decoders write into it directly.
	Framebuffer() []byte
	Refresh(region Region, mode RefreshMode) error
	Sleep() error
	Wake() error
}
