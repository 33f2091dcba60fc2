package world

import (
	"fmt"
	"math"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// ExitType classifies a MapExit by the kind of map it leads out of.
type ExitType int

// MapExit types.
const (
	InteriorMapExit ExitType = iota
	BuildingExit
	TownExit
	TileMapExit
)

var exitTypeNames = map[ExitType]string{
	InteriorMapExit: "interior_map",
	BuildingExit:    "building",
	TownExit:        "town",
	TileMapExit:     "tilemap",
}

// String returns the YAML name of the exit type.
func (t ExitType) String() string {
	if n, ok := exitTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("ExitType(%d)", int(t))
}

// ParseExitType converts a YAML name into an ExitType.
//
// Postcondition: Returns an error for unknown names.
func ParseExitType(s string) (ExitType, error) {
	for t, n := range exitTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown exit type %q", s)
}

// Side is the side of a map a MapExit sits on. SideNone marks a one-way exit.
type Side int

// Exit sides.
const (
	SideNone Side = iota
	SideNorth
	SideSouth
	SideWest
	SideEast
)

var sideNames = map[Side]string{
	SideNone:  "none",
	SideNorth: "north",
	SideSouth: "south",
	SideWest:  "west",
	SideEast:  "east",
}

// String returns the YAML name of the side.
func (s Side) String() string {
	if n, ok := sideNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// ParseSide converts a YAML name into a Side. The empty string is SideNone.
func ParseSide(s string) (Side, error) {
	if s == "" {
		return SideNone, nil
	}
	for side, n := range sideNames {
		if n == s {
			return side, nil
		}
	}
	return 0, fmt.Errorf("unknown exit side %q", s)
}

// NoKnowledge means a MapExit has no knowledge requirement.
const NoKnowledge = -1

// insertionOffset is the distance from the exit edge at which arriving
// entities are placed on south and east exits.
const insertionOffset = 20

// MapExit is a rectangular trigger that teleports an entity to another
// region. It belongs to exactly one container: a Room, TownMap, WorldMap or
// TileMap.
type MapExit struct {
	geom.Rect
	// ID is the exit's index within its container.
	ID int
	// Name is an optional editor label.
	Name string
	// Type is the kind of map the exit leaves.
	Type ExitType
	// Side is the side of the map the exit sits on.
	Side Side
	// Target is where the exit leads.
	Target Location
	// TargetPosition is where the entity is placed in Target.
	TargetPosition geom.Point
	// TargetOrientation is the facing, in radians, the entity takes in Target.
	TargetOrientation float64
	// RequiredKnowledgeID gates the exit; NoKnowledge means no requirement.
	RequiredKnowledgeID int

	// owner is the location of the container that holds the exit. Set by
	// Resolve.
	owner Location
	// inert is set by Resolve when Target does not resolve to a region.
	inert bool
}

// Owner returns the location of the container that holds the exit.
func (e *MapExit) Owner() Location {
	return e.owner
}

// Inert reports whether the exit was disabled during resolve because its
// target does not exist.
func (e *MapExit) Inert() bool {
	return e.inert
}

// Triggers reports whether an entity heading to dest, whose current
// rectangle is current, enters the exit.
//
// The exit fires if it contains dest, dest offset by half the sprite, or
// dest offset by the full sprite, and it also intersects current. Sampling
// three points lowers the chance that a single tick step jumps over a thin
// exit, but does not rule it out.
func (e *MapExit) Triggers(dest geom.Point, current geom.Rect) bool {
	if e.inert {
		return false
	}
	hit := e.Contains(dest) ||
		e.Contains(dest.Add(current.Width/2, current.Height/2)) ||
		e.Contains(dest.Add(current.Width, current.Height))
	return hit && e.Intersects(current)
}

// InsertionPoint returns where an entity entering through this exit is
// placed on the exit's own map.
func (e *MapExit) InsertionPoint() geom.Point {
	switch e.Side {
	case SideSouth:
		return geom.Point{X: e.X + e.Width/2, Y: e.Y - insertionOffset}
	case SideEast:
		return geom.Point{X: e.X - insertionOffset, Y: e.Y + e.Height/2}
	default:
		return e.Center()
	}
}

// LocalOrientation returns the facing, in radians, of an entity arriving
// through this exit.
func (e *MapExit) LocalOrientation() float64 {
	switch e.Side {
	case SideNorth:
		return math.Pi / 2
	case SideSouth:
		return -math.Pi / 2
	case SideEast:
		return math.Pi
	default:
		return 0
	}
}

// Position returns the exit's top-left corner.
func (e *MapExit) Position() geom.Point {
	return geom.Point{X: e.X, Y: e.Y}
}

// String returns the exit's label and target.
func (e *MapExit) String() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("exit#%d", e.ID)
	}
	return fmt.Sprintf("%s -> %s", name, e.Target)
}
