package power

import (
	"testing"
	"time"

	"github.com/danmuck/inkframe/internal/testutil/testlog"
)

func TestTrackerIdle(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	tr := NewTracker(30*time.Second, nil)
	tr.now = func() time.Time { return now }
	tr.Touch()

	now = now.Add(29 * time.Second)
	if tr.ShouldSleep() {
		t.Fatalf("should not sleep before timeout")
	}
	now = now.Add(time.Second)
	if !tr.ShouldSleep() {
		t.Fatalf("should sleep at timeout")
	}
	tr.Touch()
	if tr.ShouldSleep() || tr.IdleFor() != 0 {
		t.Fatalf("touch should reset idle time")
	}
}

func TestCriticalBatterySleepsImmediately(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker(time.Hour, FixedBattery(ChargeCritical))
	if !tr.ShouldSleep() {
		t.Fatalf("critical battery should force sleep")
	}
	if tr.SleepDuration() != 0 {
		t.Fatalf("critical battery sleeps without timed wake")
	}
}

func TestSleepFor(t *testing.T) {
	testlog.Start(t)
	cases := map[ChargeState]time.Duration{
		ChargeCharging: 30 * time.Minute,
		ChargeNormal:   time.Hour,
		ChargeLow:      3 * time.Hour,
		ChargeCritical: 0,
	}
	for c, want := range cases {
		if got := SleepFor(c); got != want {
			t.Fatalf("SleepFor(%v) got=%v want=%v", c, got, want)
		}
	}
}
