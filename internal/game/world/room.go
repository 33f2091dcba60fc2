package world

import (
	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// Room is one room of an InteriorMap. Rooms are joined to their neighbours
// by RoomLinks and lead out of the interior map through MapExits.
type Room struct {
	// ID is the room's index within its interior map.
	ID int
	// FullName is the display name.
	FullName string
	// ShortName is the compact name used for chat room labels.
	ShortName string
	// Insertion is where an entity is placed when it enters the room without
	// a more specific target position.
	Insertion geom.Point
	// MaxPlayers caps the room population; 0 means unlimited.
	MaxPlayers int
	// Links lists the room links touching this room.
	Links []*RoomLink
	// Exits lists the map exits leaving this room.
	Exits []*MapExit

	location    Location
	interiorMap *InteriorMap
}

// Location returns the room's resolved location.
func (r *Room) Location() Location { return r.location }

// InteriorMap returns the interior map that holds the room.
func (r *Room) InteriorMap() *InteriorMap { return r.interiorMap }

// InsertionPoint returns the room's default entry point.
func (r *Room) InsertionPoint() geom.Point { return r.Insertion }

// Name returns the room's full name.
func (r *Room) Name() string { return r.FullName }

// IntersectingRoomLink returns the first resolved link that current
// overlaps, or nil.
func (r *Room) IntersectingRoomLink(current geom.Rect) *RoomLink {
	for _, l := range r.Links {
		if !l.Resolved() {
			continue
		}
		if l.Touches(current) {
			return l
		}
	}
	return nil
}

// IntersectingMapExit returns the first exit triggered by an entity heading
// to dest with current rectangle current, or nil.
func (r *Room) IntersectingMapExit(dest geom.Point, current geom.Rect) *MapExit {
	return firstTriggered(r.Exits, dest, current)
}

// InOtherRoom decides which room an entity ended up in after it stopped
// overlapping link, judging from its current rectangle.
//
// For a link taller than wide, Room1 is the west room: an entity in Room1
// has crossed once its centre x is past the link's left edge, an entity in
// Room2 once its centre x is before the link's right edge. For a link wider
// than tall, Room1 is the north room and the test uses the rectangle's top
// against the link's top (from Room1) or its bottom against the link's
// bottom (from Room2). Square links never report a crossing.
//
// Postcondition: Returns the id of the other room, or Unset if the entity
// is still in r.
func (r *Room) InOtherRoom(link *RoomLink, current geom.Rect) int {
	switch {
	case link.Tall():
		centerX := current.X + current.Width/2
		if link.Room1ID == r.ID {
			if link.X < centerX {
				return link.Room2ID
			}
		} else if centerX < link.Right() {
			return link.Room1ID
		}
	case link.Wide():
		if link.Room1ID == r.ID {
			if link.Y <= current.Y {
				return link.Room2ID
			}
		} else if current.Bottom() <= link.Bottom() {
			return link.Room1ID
		}
	}
	return Unset
}

// NearRooms returns the distinct rooms reachable through r's resolved links,
// in link order, excluding r itself.
func (r *Room) NearRooms() []*Room {
	seen := make(map[*Room]bool, len(r.Links))
	var near []*Room
	for _, l := range r.Links {
		other := l.Other(r)
		if other == nil || other == r || seen[other] {
			continue
		}
		seen[other] = true
		near = append(near, other)
	}
	return near
}

// LinkTo returns the first resolved link joining r to other, or nil.
func (r *Room) LinkTo(other *Room) *RoomLink {
	for _, l := range r.Links {
		if l.Other(r) == other {
			return l
		}
	}
	return nil
}

func firstTriggered(exits []*MapExit, dest geom.Point, current geom.Rect) *MapExit {
	for _, e := range exits {
		if e.Triggers(dest, current) {
			return e
		}
	}
	return nil
}
