// Package network tracks whether the remote API is reachable.
//
// The Monitor holds a single online/offline belief. Platform connectivity
// events move it directly; an active probe against the API's health
// endpoint overrides whatever the platform said. Listeners hear about
// transitions only, never about repeated values.
package network

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultProbeInterval is the period of the background probe loop.
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Prober checks reachability. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Listener receives the new state after a transition.
type Listener func(online bool)

type listener struct {
	fn      Listener
	removed atomic.Bool
}

// Monitor is the connectivity belief shared by facades and the sync engine.
//
// Listeners run synchronously on the goroutine that caused the transition,
// in registration order. They must not call SetPlatformOnline or Check.
type Monitor struct {
	prober       Prober
	probeTimeout time.Duration
	logger       *slog.Logger

	// notifyMu serializes transitions with their notifications so listeners
	// observe them in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	online    bool
	listeners []*listener

	loopMu  sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// NewMonitor creates a monitor seeded with the platform's current value.
// prober may be nil, in which case Check only reports the current belief.
func NewMonitor(initiallyOnline bool, prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:       prober,
		probeTimeout: DefaultProbeTimeout,
		logger:       slog.Default(),
		online:       initiallyOnline,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline returns the current belief.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetPlatformOnline applies a platform connectivity event.
func (m *Monitor) SetPlatformOnline(online bool) {
	m.logger.Debug("platform connectivity event", "online", online)
	m.set(online)
}

// Check probes the API and adopts the result. It returns the new belief.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	// A probe cut short by our own shutdown says nothing about the network.
	if err != nil && ctx.Err() != nil {
		return m.IsOnline()
	}

	online := err == nil
	if err != nil {
		m.logger.Debug("health probe failed", "error", err)
	}
	m.set(online)
	return online
}

// AddListener registers fn and returns a function that removes it.
// The returned function is idempotent and safe to call from inside a
// listener; a listener removed mid-notification is not called.
func (m *Monitor) AddListener(fn Listener) (unsubscribe func()) {
	l := &listener{fn: fn}

	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.removed.Store(true)

			m.mu.Lock()
			defer m.mu.Unlock()
			for i, cur := range m.listeners {
				if cur == l {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// StartPeriodicCheck launches the probe loop: one probe immediately, then
// one per interval. Only the first call starts a loop; later calls, and
// calls after Close, return false.
func (m *Monitor) StartPeriodicCheck(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.started || m.closed {
		return false
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.probeLoop(ctx, interval, m.done)

	m.logger.Info("network probe loop started", "interval", interval)
	return true
}

func (m *Monitor) probeLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("network probe loop stopping")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Close stops the probe loop and waits for it to exit. Safe to call twice.
func (m *Monitor) Close() {
	m.loopMu.Lock()
	m.closed = true
	cancel, done := m.cancel, m.done
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	snapshot := make([]*listener, len(m.listeners))
	copy(snapshot, m.listeners)
	m.mu.Unlock()

	m.logger.Info("network status changed", "online", online)

	for _, l := range snapshot {
		if l.removed.Load() {
			continue
		}
		m.notify(l, online)
	}
}

func (m *Monitor) notify(l *listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("network listener panicked", "panic", r)
		}
	}()
	l.fn(online)
}
