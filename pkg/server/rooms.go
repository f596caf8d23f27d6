package server

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/NicolasHaas/parley/pkg/model"
)

var (
	ErrRoomExists    = errors.New("server: room already exists")
	ErrRoomRetired   = errors.New("server: room id already used")
	ErrAlreadyInRoom = errors.New("server: connection already occupies a room")
)

// RoomRegistry maps room ids to live rooms and connections to the room they
// occupy. Destroyed ids are remembered so they are never handed out twice.
// Like WaitingQueue it relies on the Coordinator's mutex.
type RoomRegistry struct {
	rooms    map[model.RoomID]*model.Room
	byHandle map[model.ConnID]model.RoomID
	retired  map[model.RoomID]struct{}
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[model.RoomID]*model.Room),
		byHandle: make(map[model.ConnID]model.RoomID),
		retired:  make(map[model.RoomID]struct{}),
	}
}

// Create registers room and indexes both occupants.
func (r *RoomRegistry) Create(room *model.Room) error {
	if _, ok := r.rooms[room.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, room.ID)
	}
	if _, ok := r.retired[room.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRoomRetired, room.ID)
	}
	for _, h := range room.Handles() {
		if existing, ok := r.byHandle[h]; ok {
			return fmt.Errorf("%w: %s in %s", ErrAlreadyInRoom, h, existing)
		}
	}

	r.rooms[room.ID] = room
	for _, h := range room.Handles() {
		r.byHandle[h] = room.ID
	}
	return nil
}

// Lookup returns the live room with the given id.
func (r *RoomRegistry) Lookup(id model.RoomID) (*model.Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

// Destroy removes the room and retires its id. Destroying an unknown id is
// a no-op that returns (nil, false).
func (r *RoomRegistry) Destroy(id model.RoomID) (*model.Room, bool) {
	room, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	delete(r.rooms, id)
	for _, h := range room.Handles() {
		if r.byHandle[h] == id {
			delete(r.byHandle, h)
		}
	}
	r.retired[id] = struct{}{}
	return room, true
}

// FindRoomOf returns the room occupied by conn.
func (r *RoomRegistry) FindRoomOf(conn model.ConnID) (model.RoomID, bool) {
	id, ok := r.byHandle[conn]
	return id, ok
}

// Known reports whether id is live or was used before.
func (r *RoomRegistry) Known(id model.RoomID) bool {
	if _, ok := r.rooms[id]; ok {
		return true
	}
	return r.Retired(id)
}

// Retired reports whether id belonged to a destroyed room.
func (r *RoomRegistry) Retired(id model.RoomID) bool {
	_, ok := r.retired[id]
	return ok
}

// Len returns the number of live rooms.
func (r *RoomRegistry) Len() int {
	return len(r.rooms)
}

// IDs returns the live room ids in lexical order.
func (r *RoomRegistry) IDs() []model.RoomID {
	ids := lo.Keys(r.rooms)
	slices.Sort(ids)
	return ids
}
