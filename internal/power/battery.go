package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Single cell Li-ion thresholds, in volts.
const (
	VoltageEmpty    = 3.0
	VoltageFull     = 4.2
	VoltageLow      = 3.3
	VoltageCritical = 3.0

	// weight of a new sample in the smoothed reading
	filterAlpha = 0.2
)

// VoltageSource reads the raw cell voltage and charger status.
type VoltageSource interface {
	Voltage() (float64, error)
	Charging() (bool, error)
}

// Percent maps a cell voltage linearly onto 0..100.
func Percent(v float64) int {
	switch {
	case v <= VoltageEmpty:
		return 0
	case v >= VoltageFull:
		return 100
	}
	return int((v - VoltageEmpty) / (VoltageFull - VoltageEmpty) * 100)
}

// Classify turns a voltage reading into a charge state. A charging cell is
// always ChargeCharging regardless of voltage.
func Classify(v float64, charging bool) ChargeState {
	switch {
	case charging:
		return ChargeCharging
	case v < VoltageCritical:
		return ChargeCritical
	case v < VoltageLow:
		return ChargeLow
	}
	return ChargeNormal
}

// VoltageBattery classifies a low-pass filtered voltage from src. A failed
// read keeps the last known state.
type VoltageBattery struct {
	src VoltageSource

	mu       sync.Mutex
	filtered float64
	primed   bool
	state    ChargeState
}

func NewVoltageBattery(src VoltageSource) *VoltageBattery {
	return &VoltageBattery{src: src}
}

// Sample takes one reading and updates the classification.
func (b *VoltageBattery) Sample() error {
	v, err := b.src.Voltage()
	if err != nil {
		return fmt.Errorf("power: read voltage: %w", err)
	}
	charging, err := b.src.Charging()
	if err != nil {
		return fmt.Errorf("power: read charger: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.primed {
		b.filtered += filterAlpha * (v - b.filtered)
	} else {
		b.filtered, b.primed = v, true
	}
	b.state = Classify(b.filtered, charging)
	return nil
}

// ChargeState samples the source and reports the filtered classification.
func (b *VoltageBattery) ChargeState() ChargeState {
	_ = b.Sample()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *VoltageBattery) Voltage() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filtered
}

func (b *VoltageBattery) Percent() int {
	return Percent(b.Voltage())
}

// SupplyDir reads a Linux power_supply class directory such as
// /sys/class/power_supply/BAT0.
type SupplyDir string

func (d SupplyDir) Voltage() (float64, error) {
	raw, err := os.ReadFile(filepath.Join(string(d), "voltage_now"))
	if err != nil {
		return 0, err
	}
	uv, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("power: voltage_now: %w", err)
	}
	return uv / 1e6, nil
}

func (d SupplyDir) Charging() (bool, error) {
	raw, err := os.ReadFile(filepath.Join(string(d), "status"))
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(string(raw)) {
	case "Charging", "Full":
		return true, nil
	}
	return false, nil
}
