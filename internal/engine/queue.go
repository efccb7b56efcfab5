package engine

import "sync"

// Trigger names what asked for a sync pass.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerOnline  Trigger = "online"
	TriggerTimer   Trigger = "retry_timer"
	TriggerManual  Trigger = "manual"
)

// honorsBackoff reports whether a pass for t skips actions whose next
// attempt time is still in the future. Only the retry timer waits; a
// reconnect or an explicit request sends everything pending.
func (t Trigger) honorsBackoff() bool {
	return t == TriggerTimer
}

// preferredTrigger picks the trigger a coalesced pass runs under. Any
// trigger other than the timer wins so a reconnect folded into a timer
// tick still bypasses backoff.
func preferredTrigger(all []Trigger) Trigger {
	for _, t := range all {
		if t != TriggerTimer {
			return t
		}
	}
	return TriggerTimer
}

// triggerQueue collects pass requests for the run loop.
//
// Requests are coalesced: any number of Enqueue calls between two Drain
// calls yield one pass. The signal channel has a buffer of one so a burst
// of triggers wakes the loop once.
type triggerQueue struct {
	mu      sync.Mutex
	pending []Trigger
	closed  bool
	signal  chan struct{}
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue records a trigger. Duplicate triggers collapse into one entry.
// Returns false once the queue is closed.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	seen := false
	for _, p := range q.pending {
		if p == t {
			seen = true
			break
		}
	}
	if !seen {
		q.pending = append(q.pending, t)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns the pending triggers in arrival order.
func (q *triggerQueue) Drain() []Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	return out
}

// Wait returns a channel that receives when triggers may be pending.
// It is closed by Close.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of distinct pending triggers.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting triggers and wakes the waiter.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
