package world

import (
	"sync"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// Door gates a RoomLink. Door state changes at runtime and is safe for
// concurrent use.
type Door struct {
	mu     sync.RWMutex
	locked bool
	opened bool
}

// NewDoor creates a door in the given state.
func NewDoor(locked, opened bool) *Door {
	return &Door{locked: locked, opened: opened}
}

// IsOpened reports whether the door is open.
func (d *Door) IsOpened() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opened
}

// IsLocked reports whether the door is locked.
func (d *Door) IsLocked() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.locked
}

// Open opens the door.
//
// Postcondition: Returns false and leaves the door closed if it is locked.
func (d *Door) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return false
	}
	d.opened = true
	return true
}

// Close closes the door.
func (d *Door) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
}

// SetLocked locks or unlocks the door. Locking also closes it.
func (d *Door) SetLocked(locked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = locked
	if locked {
		d.opened = false
	}
}

// RoomLink is a soft boundary joining two rooms of the same interior map.
// Crossing it changes the entity's room without a reload.
type RoomLink struct {
	geom.Rect
	// ID is unique across the whole world.
	ID int
	// Room1ID is the west (vertical link) or north (horizontal link) room.
	Room1ID int
	// Room2ID is the east or south room.
	Room2ID int
	// Door optionally gates the link.
	Door *Door

	room1 *Room
	room2 *Room
}

// Room1 returns the resolved room on the Room1ID side, or nil before resolve
// or when the id is dangling.
func (l *RoomLink) Room1() *Room { return l.room1 }

// Room2 returns the resolved room on the Room2ID side.
func (l *RoomLink) Room2() *Room { return l.room2 }

// Resolved reports whether both sides were wired to live rooms.
func (l *RoomLink) Resolved() bool {
	return l.room1 != nil && l.room2 != nil
}

// Other returns the room on the opposite side of the link from r.
//
// Postcondition: Returns nil if r is not on either side or the link is unresolved.
func (l *RoomLink) Other(r *Room) *Room {
	if !l.Resolved() {
		return nil
	}
	switch r {
	case l.room1:
		return l.room2
	case l.room2:
		return l.room1
	default:
		return nil
	}
}

// Blocks reports whether the link's door currently stops movement.
func (l *RoomLink) Blocks() bool {
	return l.Door != nil && !l.Door.IsOpened()
}

// Touches reports whether current overlaps the link. Unlike MapExit there
// is no destination look-ahead.
func (l *RoomLink) Touches(current geom.Rect) bool {
	return l.Intersects(current)
}
