package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// config.toml key mapping to runtime settings.
type fileConfig struct {
	ServerURL string `toml:"server_url"`
	DeviceID  string `toml:"device_id"`
	Display   struct {
		Width  int `toml:"width"`
		Height int `toml:"height"`
		Bands  int `toml:"bands"`
	} `toml:"display"`
	Memory struct {
		HeapBytes      int  `toml:"heap_bytes"`
		SafetyMargin   int  `toml:"safety_margin"`
		RxChunkBytes   int  `toml:"rx_chunk_bytes"`
		StreamWindow   int  `toml:"stream_window"`
		YieldEvery     int  `toml:"yield_every"`
		StaticRxBuffer bool `toml:"static_rx_buffer"`
	} `toml:"memory"`
	Reconnect struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"reconnect"`
	Status struct {
		ListenAddr  string   `toml:"listen_addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"status"`
	Power struct {
		ActiveTimeout string `toml:"active_timeout"`
		BatterySupply string `toml:"battery_supply"`
	} `toml:"power"`
}

// Load decodes path and overlays every defined key onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("server_url") {
		cfg.ServerURL = strings.TrimSpace(raw.ServerURL)
	}
	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}

	if meta.IsDefined("display", "width") {
		cfg.Display.Width = raw.Display.Width
	}
	if meta.IsDefined("display", "height") {
		cfg.Display.Height = raw.Display.Height
	}
	if meta.IsDefined("display", "bands") {
		cfg.Display.Bands = raw.Display.Bands
	}

	if meta.IsDefined("memory", "heap_bytes") {
		cfg.Memory.HeapBytes = raw.Memory.HeapBytes
	}
	if meta.IsDefined("memory", "safety_margin") {
		cfg.Memory.SafetyMargin = raw.Memory.SafetyMargin
	}
	if meta.IsDefined("memory", "rx_chunk_bytes") {
		cfg.Memory.RxChunkBytes = raw.Memory.RxChunkBytes
	}
	if meta.IsDefined("memory", "stream_window") {
		cfg.Memory.StreamWindow = raw.Memory.StreamWindow
	}
	if meta.IsDefined("memory", "yield_every") {
		cfg.Memory.YieldEvery = raw.Memory.YieldEvery
	}
	if meta.IsDefined("memory", "static_rx_buffer") {
		cfg.Memory.StaticRxBuffer = raw.Memory.StaticRxBuffer
	}

	if meta.IsDefined("reconnect", "initial_delay") {
		if cfg.Reconnect.InitialDelay, err = parseDuration("reconnect.initial_delay", raw.Reconnect.InitialDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("reconnect", "multiplier") {
		cfg.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if meta.IsDefined("reconnect", "max_delay") {
		if cfg.Reconnect.MaxDelay, err = parseDuration("reconnect.max_delay", raw.Reconnect.MaxDelay); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("reconnect", "jitter") {
		cfg.Reconnect.Jitter = raw.Reconnect.Jitter
	}

	if meta.IsDefined("status", "listen_addr") {
		cfg.Status.ListenAddr = strings.TrimSpace(raw.Status.ListenAddr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.Status.CorsOrigins = raw.Status.CorsOrigins
	}

	if meta.IsDefined("power", "active_timeout") {
		if cfg.Power.ActiveTimeout, err = parseDuration("power.active_timeout", raw.Power.ActiveTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("power", "battery_supply") {
		cfg.Power.BatterySupply = strings.TrimSpace(raw.Power.BatterySupply)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load config: %s: %w", key, err)
	}
	return d, nil
}
