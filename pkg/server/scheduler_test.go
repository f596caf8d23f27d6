package server

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// harness wires a scheduler to a fake owner the way the Coordinator does.
type harness struct {
	timers manualTimers
	sched  *PairingScheduler
	runs   int
}

func newHarness(delay time.Duration) *harness {
	h := &harness{}
	h.sched = NewPairingScheduler(delay, h.timers.AfterFunc, func(gen uint64) {
		if h.sched.Claim(gen) {
			h.runs++
		}
	})
	return h
}

func TestSchedulerCoalesces(t *testing.T) {
	req := require.New(t)
	h := newHarness(DefaultPairingDelay)

	req.True(h.sched.Schedule())
	req.False(h.sched.Schedule())
	req.False(h.sched.Schedule())
	req.Equal(1, h.timers.Armed())
	req.True(h.sched.Pending())

	req.Equal(1, h.timers.FireAll())
	req.Equal(1, h.runs)
	req.False(h.sched.Pending())

	// a new join after the firing arms a fresh attempt
	req.True(h.sched.Schedule())
	h.timers.FireAll()
	req.Equal(2, h.runs)
}

func TestSchedulerCancel(t *testing.T) {
	req := require.New(t)
	h := newHarness(DefaultPairingDelay)

	req.False(h.sched.Cancel())
	h.sched.Schedule()
	req.True(h.sched.Cancel())
	req.Zero(h.timers.Armed())
	req.Zero(h.timers.FireAll())
	req.Zero(h.runs)
}

func TestSchedulerStaleFiringIsNoop(t *testing.T) {
	h := newHarness(DefaultPairingDelay)
	h.sched.Schedule()
	h.sched.Cancel()

	h.timers.FireStale(0)
	require.Zero(t, h.runs)

	// a stale firing must not consume a newer attempt either
	h.sched.Schedule()
	h.timers.FireStale(0)
	require.Zero(t, h.runs)
	require.True(t, h.sched.Pending())

	require.Equal(t, 1, h.timers.FireAll())
	require.Equal(t, 1, h.runs)
}

func TestSchedulerPassesDelay(t *testing.T) {
	var got time.Duration
	after := func(d time.Duration, f func()) func() bool {
		got = d
		return func() bool { return true }
	}
	s := NewPairingScheduler(250*time.Millisecond, after, func(uint64) {})
	s.Schedule()
	require.Equal(t, 250*time.Millisecond, got)

	s = NewPairingScheduler(-time.Second, after, func(uint64) {})
	s.Schedule()
	require.Zero(t, got)
}

func TestSchedulerRealTimer(t *testing.T) {
	var fired atomic.Int32
	done := make(chan struct{})
	s := NewPairingScheduler(time.Millisecond, nil, func(uint64) {
		fired.Add(1)
		close(done)
	})
	s.Schedule()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	require.EqualValues(t, 1, fired.Load())
}
