package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// backoffSchedule maps an attempt count to the delay before the next try.
type backoffSchedule struct {
	initial time.Duration
	max     time.Duration
	jitter  float64
}

// delay returns the wait after the given number of failed attempts.
// The schedule doubles from initial and is capped at max.
func (s backoffSchedule) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = s.max
	b.Multiplier = 2
	b.RandomizationFactor = s.jitter
	b.Reset()

	d := s.initial
	for range max(attempts, 1) {
		d = b.NextBackOff()
	}
	if d > s.max {
		d = s.max
	}
	return d
}
