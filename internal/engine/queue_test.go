package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerQueue_Coalesces(t *testing.T) {
	q := newTriggerQueue()

	require.True(t, q.Enqueue(TriggerOnline))
	require.True(t, q.Enqueue(TriggerTimer))
	require.True(t, q.Enqueue(TriggerOnline))

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []Trigger{TriggerOnline, TriggerTimer}, q.Drain())
	assert.Empty(t, q.Drain())
}

func TestTriggerQueue_SignalIsBuffered(t *testing.T) {
	q := newTriggerQueue()
	q.Enqueue(TriggerManual)
	q.Enqueue(TriggerStartup)

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	select {
	case <-q.Wait():
		t.Fatal("burst should produce one signal")
	default:
	}
}

func TestTriggerQueue_Close(t *testing.T) {
	q := newTriggerQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(TriggerManual))
	_, ok := <-q.Wait()
	assert.False(t, ok)
}

func TestPreferredTrigger(t *testing.T) {
	assert.Equal(t, TriggerTimer, preferredTrigger([]Trigger{TriggerTimer}))
	assert.Equal(t, TriggerOnline, preferredTrigger([]Trigger{TriggerTimer, TriggerOnline}))
	assert.Equal(t, TriggerManual, preferredTrigger([]Trigger{TriggerManual, TriggerTimer}))

	assert.True(t, TriggerTimer.honorsBackoff())
	for _, tr := range []Trigger{TriggerOnline, TriggerManual, TriggerStartup} {
		assert.False(t, tr.honorsBackoff(), tr)
	}
}
