package server

import "time"

// DefaultPairingDelay is how long the scheduler waits after a join before
// pairing, so near-simultaneous joins and rejoins settle first.
const DefaultPairingDelay = 100 * time.Millisecond

// AfterFunc arms f to run once after d and returns a function that disarms
// it. time.AfterFunc in production, a manual clock in tests.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timerAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// PairingScheduler keeps at most one deferred pairing attempt armed.
//
// Each arming gets a generation number. When the timer fires the owner
// passes the generation back to Claim, which only succeeds for the attempt
// that is still armed; a firing that raced with Cancel becomes a no-op.
// All methods must be called under the owner's lock.
type PairingScheduler struct {
	delay time.Duration
	after AfterFunc
	fire  func(gen uint64)

	gen   uint64
	armed bool
	stop  func() bool
}

// NewPairingScheduler creates a scheduler that calls fire(gen) once the
// delay of an armed attempt elapses. fire runs on the timer goroutine
// without the owner's lock held.
func NewPairingScheduler(delay time.Duration, after AfterFunc, fire func(gen uint64)) *PairingScheduler {
	if delay < 0 {
		delay = 0
	}
	if after == nil {
		after = timerAfterFunc
	}
	return &PairingScheduler{delay: delay, after: after, fire: fire}
}

// Schedule arms a pairing attempt unless one is already pending.
// It reports whether a new attempt was armed.
func (s *PairingScheduler) Schedule() bool {
	if s.armed {
		return false
	}
	s.gen++
	gen := s.gen
	s.armed = true
	s.stop = s.after(s.delay, func() { s.fire(gen) })
	return true
}

// Cancel disarms the pending attempt, if any.
func (s *PairingScheduler) Cancel() bool {
	if !s.armed {
		return false
	}
	s.armed = false
	s.gen++
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	return true
}

// Claim consumes the armed attempt identified by gen.
func (s *PairingScheduler) Claim(gen uint64) bool {
	if !s.armed || gen != s.gen {
		return false
	}
	s.armed = false
	s.stop = nil
	return true
}

// Pending reports whether an attempt is armed.
func (s *PairingScheduler) Pending() bool {
	return s.armed
}
