package server

import (
	"github.com/samber/lo"

	"github.com/NicolasHaas/parley/pkg/model"
)

// WaitingQueue holds users waiting for a partner in join order.
// Identities are unique. It is not safe for concurrent use; the
// Coordinator serialises every call under its own mutex.
type WaitingQueue struct {
	entries []model.UserProfile
}

// NewWaitingQueue creates an empty queue.
func NewWaitingQueue() *WaitingQueue {
	return &WaitingQueue{}
}

// Enqueue appends p, or, when an entry with the same identity is already
// waiting, swaps in p's connection, language and attributes while keeping
// the original position and join time.
func (q *WaitingQueue) Enqueue(p model.UserProfile) (length int, replaced bool) {
	_, idx, found := lo.FindIndexOf(q.entries, func(e model.UserProfile) bool {
		return e.Username == p.Username
	})
	if found {
		entry := &q.entries[idx]
		entry.Conn = p.Conn
		entry.Language = p.Language
		entry.Attributes = p.Attributes
		return len(q.entries), true
	}
	q.entries = append(q.entries, p)
	return len(q.entries), false
}

// DequeueTwo removes and returns the two earliest entries.
// ok is false, and the queue untouched, when fewer than two are waiting.
func (q *WaitingQueue) DequeueTwo() (a, b model.UserProfile, ok bool) {
	if len(q.entries) < 2 {
		return model.UserProfile{}, model.UserProfile{}, false
	}
	a, b = q.entries[0], q.entries[1]
	q.entries[0], q.entries[1] = model.UserProfile{}, model.UserProfile{}
	q.entries = q.entries[2:]
	return a, b, true
}

// RemoveByHandle drops the entry bound to conn. It reports whether one existed.
func (q *WaitingQueue) RemoveByHandle(conn model.ConnID) bool {
	before := len(q.entries)
	q.entries = lo.Reject(q.entries, func(e model.UserProfile, _ int) bool {
		return e.Conn == conn
	})
	return len(q.entries) != before
}

// Len returns the number of waiting users.
func (q *WaitingQueue) Len() int {
	return len(q.entries)
}

// Contains reports whether conn is waiting.
func (q *WaitingQueue) Contains(conn model.ConnID) bool {
	return q.Position(conn) > 0
}

// Position returns the 1-based position of conn, or 0 when it is not queued.
func (q *WaitingQueue) Position(conn model.ConnID) int {
	_, idx, found := lo.FindIndexOf(q.entries, func(e model.UserProfile) bool {
		return e.Conn == conn
	})
	if !found {
		return 0
	}
	return idx + 1
}

// ByIdentity returns the entry waiting under username.
func (q *WaitingQueue) ByIdentity(username string) (model.UserProfile, bool) {
	return lo.Find(q.entries, func(e model.UserProfile) bool {
		return e.Username == username
	})
}

// ByHandle returns the entry bound to conn.
func (q *WaitingQueue) ByHandle(conn model.ConnID) (model.UserProfile, bool) {
	return lo.Find(q.entries, func(e model.UserProfile) bool {
		return e.Conn == conn
	})
}

// Snapshot returns a copy of the entries in queue order.
func (q *WaitingQueue) Snapshot() []model.UserProfile {
	out := make([]model.UserProfile, len(q.entries))
	copy(out, q.entries)
	return out
}
