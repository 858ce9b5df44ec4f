// Package config loads the client runtime settings from TOML, overlaying
// only the keys a file defines onto Default().
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/inkframe/internal/codec/rle"
	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/power"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/danmuck/inkframe/internal/protocol/receiver"
	"github.com/danmuck/inkframe/internal/transport"
)

type Config struct {
	ServerURL string
	DeviceID  string
	Display   DisplayConfig
	Memory    MemoryConfig
	Reconnect transport.BackoffConfig
	Status    StatusConfig
	Power     PowerConfig
}

type DisplayConfig struct {
	Width  int
	Height int
	Bands  int
}

func (d DisplayConfig) Geometry() display.Geometry {
	return display.Geometry{Width: d.Width, Height: d.Height}
}

type MemoryConfig struct {
	HeapBytes    int
	SafetyMargin int
	RxChunkBytes int
	StreamWindow int
	YieldEvery   int
	// StaticRxBuffer receives every payload into one preallocated buffer
	// the size of a frame instead of allocating each payload from the heap.
	StaticRxBuffer bool
}

type StatusConfig struct {
	ListenAddr  string
	CorsOrigins []string
}

type PowerConfig struct {
	ActiveTimeout time.Duration
	// BatterySupply is a power_supply class directory. Empty reports a
	// fixed normal charge state.
	BatterySupply string
}

func Default() Config {
	g := display.DefaultGeometry()
	return Config{
		ServerURL: "ws://localhost:8080/ws",
		DeviceID:  "inkframe",
		Display:   DisplayConfig{Width: g.Width, Height: g.Height, Bands: 3},
		Memory: MemoryConfig{
			HeapBytes:    160 * 1024,
			SafetyMargin: receiver.DefaultSafetyMargin,
			RxChunkBytes: transport.DefaultConfig().ChunkBytes,
			StreamWindow: rle.DefaultWindow,
			YieldEvery:   coop.DefaultEvery,
		},
		Reconnect: transport.DefaultBackoff(),
		Status: StatusConfig{
			ListenAddr:  ":9090",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Power: PowerConfig{ActiveTimeout: power.DefaultActiveTimeout},
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("config: server_url must be a ws:// or wss:// url, got %q", c.ServerURL)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("config: device_id is required")
	}
	g := c.Display.Geometry()
	if err := g.Validate(); err != nil {
		return fmt.Errorf("config: display: %w", err)
	}
	if _, err := g.Bands(c.Display.Bands); err != nil {
		return fmt.Errorf("config: display: %w", err)
	}
	m := c.Memory
	if m.HeapBytes <= 0 {
		return fmt.Errorf("config: memory.heap_bytes must be positive")
	}
	if m.SafetyMargin < 0 || m.SafetyMargin >= m.HeapBytes {
		return fmt.Errorf("config: memory.safety_margin must be in [0, heap_bytes)")
	}
	if m.RxChunkBytes < frame.HeaderLen {
		return fmt.Errorf("config: memory.rx_chunk_bytes must be at least %d", frame.HeaderLen)
	}
	if m.StreamWindow <= 0 {
		return fmt.Errorf("config: memory.stream_window must be positive")
	}
	if m.YieldEvery < 0 {
		return fmt.Errorf("config: memory.yield_every must not be negative")
	}
	r := c.Reconnect
	if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay || r.Multiplier < 1 {
		return fmt.Errorf("config: reconnect needs initial_delay > 0, max_delay >= initial_delay and multiplier >= 1")
	}
	if strings.TrimSpace(c.Status.ListenAddr) == "" {
		return fmt.Errorf("config: status.listen_addr is required")
	}
	if c.Power.ActiveTimeout <= 0 {
		return fmt.Errorf("config: power.active_timeout must be positive")
	}
	return nil
}
