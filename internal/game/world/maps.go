package world

import (
	"math"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// Region is any container with its own location and message router:
// Room, TownMap, WorldMap or TileMap.
type Region interface {
	// Location returns the region's resolved location.
	Location() Location
	// InsertionPoint returns the region's default entry point.
	InsertionPoint() geom.Point
	// Name returns the region's display name.
	Name() string
}

// InteriorMap is a set of rooms inside a building.
type InteriorMap struct {
	ID        int
	FullName  string
	ShortName string
	Rooms     []*Room

	location Location
	building *Building
}

// Location returns the interior map's location (a room location with
// RoomID unset).
func (m *InteriorMap) Location() Location { return m.location }

// Building returns the building holding the interior map.
func (m *InteriorMap) Building() *Building { return m.building }

// Room returns the room with the given id.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (m *InteriorMap) Room(id int) (*Room, bool) {
	if id >= 0 && id < len(m.Rooms) && m.Rooms[id] != nil && m.Rooms[id].ID == id {
		return m.Rooms[id], true
	}
	for _, r := range m.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Building is a footprint on a town map that holds interior maps.
type Building struct {
	geom.Rect
	ID           int
	FullName     string
	ShortName    string
	InteriorMaps []*InteriorMap

	exits []*MapExit
	town  *TownMap
}

// Town returns the town holding the building.
func (b *Building) Town() *TownMap { return b.town }

// Exits returns the BUILDING_EXIT map exits of the building's rooms. These
// double as the building's entrances from the town map.
func (b *Building) Exits() []*MapExit { return b.exits }

// InteriorMap returns the interior map with the given id.
func (b *Building) InteriorMap(id int) (*InteriorMap, bool) {
	for _, m := range b.InteriorMaps {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Direction thresholds for FindTownMapExit: an approach angle selects a
// side when its cosine or sine passes these bounds.
const (
	cosSideThreshold = 0.708
	sinSideThreshold = 0.7
)

// FindTownMapExit picks the entrance matching an entity approaching the
// building with orientation angle (radians).
//
// Postcondition: Returns nil if the building has no exits; the first exit
// when none matches.
func (b *Building) FindTownMapExit(angle float64) *MapExit {
	if len(b.exits) == 0 {
		return nil
	}
	if len(b.exits) == 1 {
		return b.exits[0]
	}
	cos, sin := math.Cos(angle), math.Sin(angle)
	for _, e := range b.exits {
		switch {
		case cos > cosSideThreshold && e.Side == SideWest:
			return e
		case cos < -cosSideThreshold && e.Side == SideEast:
			return e
		case sin > sinSideThreshold && e.Side == SideNorth:
			return e
		case sin < -sinSideThreshold && e.Side == SideSouth:
			return e
		}
	}
	return b.exits[0]
}

// FindTownMapExitFrom picks the entrance on the side of the footprint that
// from lies on.
func (b *Building) FindTownMapExitFrom(from geom.Point) *MapExit {
	return exitFacing(b.exits, b.Rect, from)
}

// TownMap is a town on a world map. It holds buildings and exits back to
// the world map.
type TownMap struct {
	geom.Rect
	ID        int
	FullName  string
	ShortName string
	Insertion geom.Point
	Buildings []*Building
	Exits     []*MapExit

	location Location
	world    *WorldMap
}

// Location returns the town's location.
func (t *TownMap) Location() Location { return t.location }

// World returns the world map holding the town.
func (t *TownMap) World() *WorldMap { return t.world }

// InsertionPoint returns the town's default entry point.
func (t *TownMap) InsertionPoint() geom.Point { return t.Insertion }

// Name returns the town's full name.
func (t *TownMap) Name() string { return t.FullName }

// Building returns the building with the given id.
func (t *TownMap) Building(id int) (*Building, bool) {
	for _, b := range t.Buildings {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// IntersectingMapExit returns the first town exit triggered, or nil.
func (t *TownMap) IntersectingMapExit(dest geom.Point, current geom.Rect) *MapExit {
	return firstTriggered(t.Exits, dest, current)
}

// IsEnteringBuilding returns the first building whose footprint contains pos
// and overlaps current, or nil. Buildings have no soft boundary: entry is
// decided on the spot.
func (t *TownMap) IsEnteringBuilding(pos geom.Point, current geom.Rect) *Building {
	for _, b := range t.Buildings {
		if b.Contains(pos) && b.Intersects(current) {
			return b
		}
	}
	return nil
}

// FindTownMapExit picks the town exit on the side of the town rectangle the
// centre of current lies on. Entities entering the town from the world map
// arrive through that exit.
//
// Postcondition: Returns nil if the town has no exits.
func (t *TownMap) FindTownMapExit(current geom.Rect) *MapExit {
	return exitFacing(t.Exits, t.Rect, current.Center())
}

// WorldMap is the top of the hierarchy. It holds towns and standalone tile
// maps.
type WorldMap struct {
	ID        int
	FullName  string
	ShortName string
	Insertion geom.Point
	Towns     []*TownMap
	TileMaps  []*TileMap

	location Location
}

// Location returns the world's location.
func (w *WorldMap) Location() Location { return w.location }

// InsertionPoint returns the world's default entry point.
func (w *WorldMap) InsertionPoint() geom.Point { return w.Insertion }

// Name returns the world's full name.
func (w *WorldMap) Name() string { return w.FullName }

// Town returns the town with the given id.
func (w *WorldMap) Town(id int) (*TownMap, bool) {
	for _, t := range w.Towns {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// IsEnteringTown returns the first town whose rectangle contains dest and
// overlaps current, or nil.
func (w *WorldMap) IsEnteringTown(dest geom.Point, current geom.Rect) *TownMap {
	for _, t := range w.Towns {
		if t.Contains(dest) && t.Intersects(current) {
			return t
		}
	}
	return nil
}

// TileMap is a standalone tile-based map inside a world.
type TileMap struct {
	ID        int
	FullName  string
	ShortName string
	Insertion geom.Point
	Exits     []*MapExit

	location Location
	world    *WorldMap
}

// Location returns the tile map's location.
func (m *TileMap) Location() Location { return m.location }

// World returns the world holding the tile map.
func (m *TileMap) World() *WorldMap { return m.world }

// InsertionPoint returns the tile map's default entry point.
func (m *TileMap) InsertionPoint() geom.Point { return m.Insertion }

// Name returns the tile map's full name.
func (m *TileMap) Name() string { return m.FullName }

// IntersectingMapExit returns the first tile map exit triggered, or nil.
func (m *TileMap) IntersectingMapExit(dest geom.Point, current geom.Rect) *MapExit {
	return firstTriggered(m.Exits, dest, current)
}

func exitFacing(exits []*MapExit, area geom.Rect, from geom.Point) *MapExit {
	if len(exits) == 0 {
		return nil
	}
	if len(exits) == 1 {
		return exits[0]
	}
	for _, e := range exits {
		switch {
		case e.Side == SideWest && from.X <= area.X:
			return e
		case e.Side == SideEast && from.X >= area.Right():
			return e
		case e.Side == SideNorth && from.Y <= area.Y:
			return e
		case e.Side == SideSouth && from.Y >= area.Bottom():
			return e
		}
	}
	return exits[0]
}
