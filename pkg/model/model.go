// Package model defines the core domain types for Parley.
package model

import (
	"github.com/google/uuid"
)

// ConnID identifies a live client connection. The transport layer owns the
// connection itself; everything else only holds the ID.
type ConnID string

// NewConnID returns a fresh random connection identifier.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

func (id ConnID) String() string { return string(id) }

// SessionState is the matchmaking state of a single connection.
type SessionState int

const (
	StateIdle   SessionState = iota // connected, not looking for a partner
	StateQueued                     // waiting in the queue
	StatePaired                     // occupying a room
	StateClosed                     // session ended (own or partner's disconnect)
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StatePaired:
		return "paired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanJoinQueue reports whether a connection in this state may (re)enter matchmaking.
func (s SessionState) CanJoinQueue() bool {
	return s != StatePaired
}
