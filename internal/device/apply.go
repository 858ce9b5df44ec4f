package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/inkframe/internal/codec/hybrid"
	"github.com/danmuck/inkframe/internal/codec/rle"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/protocol/frame"
)

var (
	ErrUnknownType = errors.New("device: unknown packet type")
	ErrFrameSize   = errors.New("device: expanded size does not match target")
)

// apply writes one completed packet into the panel frame buffer. Callers
// hold d.mu.
func (d *Device) apply(h frame.Header, payload []byte) error {
	fb := d.panel.Framebuffer()
	full := d.panel.Geometry().Full()
	switch h.Type {
	case frame.TypeFull:
		if err := preflight(payload, full.Size); err != nil {
			return err
		}
		if err := hybrid.Decode(d.heap, fb, fb, payload, false, d.yield); err != nil {
			return err
		}
		return d.refresh(full, d.mode)

	case frame.TypeDelta:
		if err := hybrid.Decode(d.heap, fb, fb, payload, true, d.yield); err != nil {
			return err
		}
		return d.refresh(full, d.mode)

	case frame.TypeTile:
		index, data, err := frame.ParseTile(payload)
		if err != nil {
			return err
		}
		region, err := d.bands.Lookup(index)
		if err != nil {
			return err
		}
		if err := preflight(data, region.Size); err != nil {
			return err
		}
		w := &regionWriter{buf: fb[region.Offset : region.Offset+region.Size]}
		if _, err := rle.DecodeStream(w, data, d.window, d.yield); err != nil {
			return err
		}
		return d.refresh(region, d.mode)

	case frame.TypeCmd:
		cmd, err := frame.ParseCommand(payload)
		if err != nil {
			return err
		}
		return d.command(cmd, fb, full)

	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(h.Type))
	}
}

func (d *Device) command(cmd frame.Command, fb []byte, full display.Region) error {
	d.log.Info().Stringer("command", cmd).Msg("command")
	switch cmd {
	case frame.CmdClear:
		for i := range fb {
			fb[i] = display.White
		}
		return d.refresh(full, display.RefreshFull)
	case frame.CmdSleep:
		return d.panel.Sleep()
	case frame.CmdWake:
		return d.panel.Wake()
	case frame.CmdPartialMode:
		d.mode = display.RefreshPartial
	case frame.CmdFullMode:
		d.mode = display.RefreshFull
	}
	return nil
}

// refresh redraws region, waking the panel first if the power policy put
// it to sleep. Incoming frame data is activity, so it is never refused for
// a sleeping panel.
func (d *Device) refresh(region display.Region, mode display.RefreshMode) error {
	err := d.panel.Refresh(region, mode)
	if !errors.Is(err, display.ErrAsleep) {
		return err
	}
	d.log.Info().Stringer("region", region).Msg("waking panel for update")
	if err := d.panel.Wake(); err != nil {
		return fmt.Errorf("device: wake panel: %w", err)
	}
	return d.panel.Refresh(region, mode)
}

// preflight rejects a run-length payload whose expansion does not exactly
// fill the target, before any byte of the target is written.
func preflight(data []byte, want int) error {
	n, err := rle.SizeOnly(data)
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("%w: expands to %d, target %d", ErrFrameSize, n, want)
	}
	return nil
}

// regionWriter fills a fixed slice of the frame buffer front to back.
type regionWriter struct {
	buf []byte
	off int
}

func (w *regionWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
