package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// switchProber answers from a settable flag and counts calls.
type switchProber struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (p *switchProber) Probe(context.Context) error {
	p.calls.Add(1)
	if p.up.Load() {
		return nil
	}
	return errors.New("connection refused")
}

type recorder struct {
	mu  sync.Mutex
	got []bool
}

func (r *recorder) listen(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, online)
}

func (r *recorder) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func TestMonitor_InitialValue(t *testing.T) {
	assert.True(t, NewMonitor(true, nil).IsOnline())
	assert.False(t, NewMonitor(false, nil).IsOnline())
}

func TestMonitor_NotifiesOnlyOnTransition(t *testing.T) {
	m := NewMonitor(false, nil)
	var r recorder
	m.AddListener(r.listen)

	m.SetPlatformOnline(false)
	m.SetPlatformOnline(true)
	m.SetPlatformOnline(true)
	m.SetPlatformOnline(false)

	assert.Equal(t, []bool{true, false}, r.values())
}

func TestMonitor_ListenersRunInRegistrationOrder(t *testing.T) {
	m := NewMonitor(false, nil)
	var order []string
	m.AddListener(func(bool) { order = append(order, "a") })
	m.AddListener(func(bool) { order = append(order, "b") })
	m.AddListener(func(bool) { order = append(order, "c") })

	m.SetPlatformOnline(true)

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestMonitor_UnsubscribeIsIdempotent(t *testing.T) {
	m := NewMonitor(false, nil)
	var r recorder
	unsubscribe := m.AddListener(r.listen)

	unsubscribe()
	unsubscribe()
	m.SetPlatformOnline(true)

	assert.Empty(t, r.values())
}

func TestMonitor_UnsubscribeDuringNotification(t *testing.T) {
	m := NewMonitor(false, nil)

	var second recorder
	var unsubscribeSecond func()
	m.AddListener(func(bool) { unsubscribeSecond() })
	unsubscribeSecond = m.AddListener(second.listen)

	m.SetPlatformOnline(true)
	m.SetPlatformOnline(false)

	assert.Empty(t, second.values())
}

func TestMonitor_UnsubscribeSelfDuringNotification(t *testing.T) {
	m := NewMonitor(false, nil)

	var calls int
	var unsubscribe func()
	unsubscribe = m.AddListener(func(bool) {
		calls++
		unsubscribe()
	})
	var other recorder
	m.AddListener(other.listen)

	m.SetPlatformOnline(true)
	m.SetPlatformOnline(false)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []bool{true, false}, other.values())
}

func TestMonitor_PanickingListenerIsContained(t *testing.T) {
	m := NewMonitor(false, nil)
	m.AddListener(func(bool) { panic("boom") })
	var r recorder
	m.AddListener(r.listen)

	require.NotPanics(t, func() { m.SetPlatformOnline(true) })
	assert.Equal(t, []bool{true}, r.values())
}

func TestMonitor_CheckOverridesPlatform(t *testing.T) {
	p := &switchProber{}
	m := NewMonitor(true, p)

	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.IsOnline())

	p.up.Store(true)
	m.SetPlatformOnline(false)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
}

func TestMonitor_CheckWithoutProber(t *testing.T) {
	m := NewMonitor(true, nil)
	assert.True(t, m.Check(context.Background()))
}

func TestMonitor_CheckIgnoresCancelledProbe(t *testing.T) {
	m := NewMonitor(true, ProbeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, m.Check(ctx))
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	m := NewMonitor(true, ProbeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithProbeTimeout(20*time.Millisecond))

	assert.False(t, m.Check(context.Background()))
}

func TestMonitor_StartPeriodicCheck_ProbesImmediately(t *testing.T) {
	p := &switchProber{}
	p.up.Store(true)
	m := NewMonitor(false, p)
	defer m.Close()

	require.True(t, m.StartPeriodicCheck(context.Background(), time.Hour))

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestMonitor_StartPeriodicCheck_IsIdempotent(t *testing.T) {
	p := &switchProber{}
	m := NewMonitor(false, p)
	defer m.Close()

	assert.True(t, m.StartPeriodicCheck(context.Background(), time.Hour))
	assert.False(t, m.StartPeriodicCheck(context.Background(), time.Hour))

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestMonitor_PeriodicCheckTicks(t *testing.T) {
	p := &switchProber{}
	m := NewMonitor(false, p)
	defer m.Close()

	m.StartPeriodicCheck(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	p.up.Store(true)
	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
}

func TestMonitor_ContextStopsLoop(t *testing.T) {
	p := &switchProber{}
	m := NewMonitor(false, p)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartPeriodicCheck(ctx, 5*time.Millisecond)
	cancel()

	m.Close()
	calls := p.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, p.calls.Load())
}

func TestMonitor_StartAfterClose(t *testing.T) {
	m := NewMonitor(false, &switchProber{})
	m.Close()
	m.Close()

	assert.False(t, m.StartPeriodicCheck(context.Background(), time.Millisecond))
}
