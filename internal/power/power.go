// Package power tracks link activity for the power subsystem and maps the
// battery charge state onto a deep-sleep duration.
package power

import (
	"sync"
	"time"
)

// ChargeState is the battery classification reported by the monitor.
type ChargeState int

const (
	ChargeNormal ChargeState = iota
	ChargeCharging
	ChargeLow
	ChargeCritical
)

func (c ChargeState) String() string {
	switch c {
	case ChargeCharging:
		return "charging"
	case ChargeLow:
		return "low"
	case ChargeCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Battery reports the current charge state.
type Battery interface {
	ChargeState() ChargeState
}

// FixedBattery always reports the same state; used when no monitor is
// wired.
type FixedBattery ChargeState

func (b FixedBattery) ChargeState() ChargeState {
	return ChargeState(b)
}

const DefaultActiveTimeout = 30 * time.Second

// SleepFor returns the deep-sleep duration for a charge state. Zero means
// sleep until reset or external power.
func SleepFor(c ChargeState) time.Duration {
	switch c {
	case ChargeCharging:
		return 30 * time.Minute
	case ChargeLow:
		return 3 * time.Hour
	case ChargeCritical:
		return 0
	default:
		return time.Hour
	}
}

// Tracker records the last activity time. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	last    time.Time
	battery Battery
}

func NewTracker(timeout time.Duration, battery Battery) *Tracker {
	if timeout <= 0 {
		timeout = DefaultActiveTimeout
	}
	if battery == nil {
		battery = FixedBattery(ChargeNormal)
	}
	t := &Tracker{timeout: timeout, now: time.Now, battery: battery}
	t.last = t.now()
	return t
}

// Touch marks activity.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

func (t *Tracker) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.last)
}

// ShouldSleep reports whether the device has been idle past the timeout
// or the battery is critical.
func (t *Tracker) ShouldSleep() bool {
	if t.battery.ChargeState() == ChargeCritical {
		return true
	}
	return t.IdleFor() >= t.timeout
}

// SleepDuration is SleepFor applied to the current charge state.
func (t *Tracker) SleepDuration() time.Duration {
	return SleepFor(t.battery.ChargeState())
}

func (t *Tracker) ChargeState() ChargeState {
	return t.battery.ChargeState()
}
