package server

import (
	"fmt"
	"sync"

	"github.com/circl-chat/circl-server/internal/types"
)

// RoomDirectory is the single authoritative record of which room each
// session is in. Membership and the session's current room are two views of
// one relation updated under one lock, so no observer can see a session in
// both rooms, neither room, or a membership set mid-move.
type RoomDirectory struct {
	mu sync.RWMutex
	// members maps room id -> connection id -> session (weak references,
	// the registry owns the sessions).
	members map[string]map[string]*Session
	// current maps connection id -> room id.
	current map[string]string
	meta    map[string]types.Room
	order   []string
}

func NewRoomDirectory(rooms []types.Room) *RoomDirectory {
	d := &RoomDirectory{
		members: make(map[string]map[string]*Session),
		current: make(map[string]string),
		meta:    make(map[string]types.Room),
	}
	for _, r := range rooms {
		if _, ok := d.meta[r.Id]; ok {
			continue
		}
		d.meta[r.Id] = r
		d.order = append(d.order, r.Id)
	}
	return d
}

func (d *RoomDirectory) Exists(roomId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.meta[roomId]
	return ok
}

func (d *RoomDirectory) Meta(roomId string) (types.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	meta, ok := d.meta[roomId]
	return meta, ok
}

// Join adds the session to the room. Idempotent if the session is already a
// member; fails if the session is currently in a different room (use Move).
func (d *RoomDirectory) Join(roomId string, s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.meta[roomId]; !ok {
		return fmt.Errorf("room %q: %w", roomId, ErrNotFound)
	}

	if cur, ok := d.current[s.ConnId]; ok {
		if cur == roomId {
			return nil
		}
		return fmt.Errorf("session already in room %q", cur)
	}

	d.addLocked(roomId, s)
	return nil
}

// Leave removes the session from the room. No-op if it is not a member.
func (d *RoomDirectory) Leave(roomId string, s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current[s.ConnId] != roomId {
		return
	}
	d.removeLocked(roomId, s.ConnId)
}

// Move atomically relocates the session from its current room to toRoom.
// Both the membership sets and the current-room index are updated under one
// critical section.
func (d *RoomDirectory) Move(s *Session, toRoom string) (fromRoom string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.meta[toRoom]; !ok {
		return "", fmt.Errorf("room %q: %w", toRoom, ErrNotFound)
	}

	fromRoom = d.current[s.ConnId]
	if fromRoom == toRoom {
		return fromRoom, nil
	}

	if fromRoom != "" {
		d.removeLocked(fromRoom, s.ConnId)
	}
	d.addLocked(toRoom, s)

	return fromRoom, nil
}

// Remove drops the session from whatever room it is in, returning that
// room's id. Used by the disconnect cascade.
func (d *RoomDirectory) Remove(s *Session) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roomId, ok := d.current[s.ConnId]
	if !ok {
		return "", false
	}
	d.removeLocked(roomId, s.ConnId)
	return roomId, true
}

func (d *RoomDirectory) CurrentRoom(connId string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roomId, ok := d.current[connId]
	return roomId, ok
}

func (d *RoomDirectory) IsMember(roomId, connId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.members[roomId][connId]
	return ok
}

// Members returns a consistent snapshot of the room's member sessions.
// Fan-out must iterate the snapshot, never re-query mid-emit.
func (d *RoomDirectory) Members(roomId string) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.members[roomId]
	members := make([]*Session, 0, len(set))
	for _, s := range set {
		members = append(members, s)
	}
	return members
}

func (d *RoomDirectory) MemberCount(roomId string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.members[roomId])
}

// Rooms lists room metadata in registration order with live member counts.
func (d *RoomDirectory) Rooms() []types.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]types.Room, 0, len(d.order))
	for _, id := range d.order {
		meta := d.meta[id]
		meta.MemberCount = len(d.members[id])
		rooms = append(rooms, meta)
	}
	return rooms
}

// AddRoom registers metadata for a room created after startup.
func (d *RoomDirectory) AddRoom(room types.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.meta[room.Id]; ok {
		return
	}
	d.meta[room.Id] = room
	d.order = append(d.order, room.Id)
}

func (d *RoomDirectory) addLocked(roomId string, s *Session) {
	set := d.members[roomId]
	if set == nil {
		set = make(map[string]*Session)
		d.members[roomId] = set
	}
	set[s.ConnId] = s
	d.current[s.ConnId] = roomId
}

func (d *RoomDirectory) removeLocked(roomId, connId string) {
	if set, ok := d.members[roomId]; ok {
		delete(set, connId)
		if len(set) == 0 {
			delete(d.members, roomId)
		}
	}
	delete(d.current, connId)
}
