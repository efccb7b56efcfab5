package testutil

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrProbeDown is returned by a StubProber that is down.
var ErrProbeDown = errors.New("stub prober: down")

// StubProber answers health probes from a settable flag.
type StubProber struct {
	up    atomic.Bool
	calls atomic.Int32
}

// NewStubProber creates a prober in the given state.
func NewStubProber(up bool) *StubProber {
	p := &StubProber{}
	p.up.Store(up)
	return p
}

// Probe implements network.Prober.
func (p *StubProber) Probe(context.Context) error {
	p.calls.Add(1)
	if p.up.Load() {
		return nil
	}
	return ErrProbeDown
}

// SetUp changes the probe result.
func (p *StubProber) SetUp(up bool) {
	p.up.Store(up)
}

// Calls returns how many probes ran.
func (p *StubProber) Calls() int {
	return int(p.calls.Load())
}
