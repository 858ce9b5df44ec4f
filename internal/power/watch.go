package power

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sleeper is the display side of the power policy.
type Sleeper interface {
	Sleep() error
	Wake() error
}

// sleepReporter is implemented by sleepers that can be woken outside the
// watch, such as a panel that wakes itself for incoming frame data.
type sleepReporter interface {
	Asleep() bool
}

// Watch polls the tracker every interval. The sleeper is put to sleep when
// the tracker says so and woken on the first poll after activity resumes.
// It returns nil when ctx is cancelled.
func (t *Tracker) Watch(ctx context.Context, s Sleeper, interval time.Duration, logger zerolog.Logger) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	asleep := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		asleep = t.step(s, asleep, logger)
	}
}

func (t *Tracker) step(s Sleeper, asleep bool, logger zerolog.Logger) bool {
	if r, ok := s.(sleepReporter); ok {
		asleep = r.Asleep()
	}
	should := t.ShouldSleep()
	switch {
	case should && !asleep:
		logger.Info().
			Str("charge", t.ChargeState().String()).
			Dur("idle", t.IdleFor()).
			Dur("sleep_for", t.SleepDuration()).
			Msg("idle, sleeping display")
		if err := s.Sleep(); err != nil {
			logger.Warn().Err(err).Msg("display sleep")
			return false
		}
		return true
	case !should && asleep:
		logger.Info().Msg("activity resumed, waking display")
		if err := s.Wake(); err != nil {
			logger.Warn().Err(err).Msg("display wake")
			return true
		}
		return false
	}
	return asleep
}
