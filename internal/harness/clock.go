package harness

import (
	"sync"
	"time"
)

// scenarioClock is the run's fake wall clock. now returns the current
// instant and then steps it forward, so store timestamps stay distinct
// without sleeping. peek reads it without stepping.
type scenarioClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newScenarioClock(start time.Time, step time.Duration) *scenarioClock {
	return &scenarioClock{t: start, step: step}
}

func (c *scenarioClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func (c *scenarioClock) peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *scenarioClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
