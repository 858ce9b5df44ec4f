package main

import (
	"github.com/danmuck/inkframe/internal/config"
	"github.com/danmuck/inkframe/internal/coop"
	"github.com/danmuck/inkframe/internal/device"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/heap"
	"github.com/danmuck/inkframe/internal/power"
	"github.com/rs/zerolog"
)

// stack is the device core shared by run and replay.
type stack struct {
	cfg     config.Config
	arena   *heap.Arena
	panel   *display.Memory
	tracker *power.Tracker
	battery *power.VoltageBattery
	device  *device.Device
}

func buildStack(cfg config.Config, logger zerolog.Logger) (*stack, error) {
	panel, err := display.NewMemory(cfg.Display.Geometry())
	if err != nil {
		return nil, err
	}
	arena := heap.NewArena(cfg.Memory.HeapBytes)
	var battery *power.VoltageBattery
	var charge power.Battery = power.FixedBattery(power.ChargeNormal)
	if cfg.Power.BatterySupply != "" {
		battery = power.NewVoltageBattery(power.SupplyDir(cfg.Power.BatterySupply))
		if err := battery.Sample(); err != nil {
			logger.Warn().Err(err).Str("supply", cfg.Power.BatterySupply).Msg("battery not readable yet")
		}
		charge = battery
	}
	tracker := power.NewTracker(cfg.Power.ActiveTimeout, charge)

	var yielder *coop.Yielder
	if cfg.Memory.YieldEvery > 0 {
		yielder = coop.New(cfg.Memory.YieldEvery)
	}
	var rxBuf []byte
	if cfg.Memory.StaticRxBuffer {
		rxBuf = make([]byte, cfg.Display.Geometry().FrameBytes())
	}

	dev, err := device.New(device.Options{
		ID:           cfg.DeviceID,
		Panel:        panel,
		Heap:         arena,
		Bands:        cfg.Display.Bands,
		SafetyMargin: cfg.Memory.SafetyMargin,
		StreamWindow: cfg.Memory.StreamWindow,
		Yielder:      yielder,
		Activity:     tracker,
		Logger:       logger,
		RxBuffer:     rxBuf,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("device", cfg.DeviceID).
		Int("width", cfg.Display.Width).
		Int("height", cfg.Display.Height).
		Int("heap_bytes", cfg.Memory.HeapBytes).
		Bool("static_rx_buffer", rxBuf != nil).
		Msg("device ready")
	return &stack{cfg: cfg, arena: arena, panel: panel, tracker: tracker, battery: battery, device: dev}, nil
}
