package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/NicolasHaas/parley/pkg/crypto"
)

// RoomSuffixLength gives ~41 bits of entropy per room identifier.
const RoomSuffixLength = 8

var ErrSameConnection = errors.New("room occupants must use distinct connections")

// RoomID identifies a two-party room. It carries no ordering guarantee.
type RoomID string

func (id RoomID) String() string { return string(id) }

// NewRoomID builds "room_<unix millis>_<random base36>".
func NewRoomID(now time.Time) (RoomID, error) {
	suffix, err := crypto.RandomSuffix(RoomSuffixLength)
	if err != nil {
		return "", fmt.Errorf("model: room id: %w", err)
	}
	return RoomID(fmt.Sprintf("room_%d_%s", now.UnixMilli(), suffix)), nil
}

// Room is a live two-party chat session.
type Room struct {
	ID        RoomID
	Occupants [2]UserProfile
	Languages map[ConnID]string // connection -> declared language
	CreatedAt time.Time
}

// NewRoom pairs a and b. Both must hold distinct connections.
func NewRoom(id RoomID, a, b UserProfile, now time.Time) (*Room, error) {
	if a.Conn == b.Conn {
		return nil, ErrSameConnection
	}
	return &Room{
		ID:        id,
		Occupants: [2]UserProfile{a, b},
		Languages: map[ConnID]string{
			a.Conn: a.Language,
			b.Conn: b.Language,
		},
		CreatedAt: now,
	}, nil
}

// Has reports whether conn occupies the room.
func (r *Room) Has(conn ConnID) bool {
	_, ok := r.Languages[conn]
	return ok
}

// Partner returns the occupant that is not conn.
func (r *Room) Partner(conn ConnID) (UserProfile, bool) {
	switch conn {
	case r.Occupants[0].Conn:
		return r.Occupants[1], true
	case r.Occupants[1].Conn:
		return r.Occupants[0], true
	}
	return UserProfile{}, false
}

// Occupant returns the profile attached to conn.
func (r *Room) Occupant(conn ConnID) (UserProfile, bool) {
	for _, p := range r.Occupants {
		if p.Conn == conn {
			return p, true
		}
	}
	return UserProfile{}, false
}

// LanguageOf returns the declared language of the occupant on conn.
func (r *Room) LanguageOf(conn ConnID) (string, bool) {
	lang, ok := r.Languages[conn]
	return lang, ok
}

// Handles returns both occupants' connections.
func (r *Room) Handles() [2]ConnID {
	return [2]ConnID{r.Occupants[0].Conn, r.Occupants[1].Conn}
}
