package world

import "fmt"

// Unset marks a Location level that does not apply to the location's shape.
const Unset = -1

// Shape identifies which level of the map hierarchy a Location addresses.
type Shape int

// Location shapes, in predicate precedence order.
const (
	ShapeInvalid Shape = iota
	ShapeRoom
	ShapeTown
	ShapeWorld
	ShapeTileMap
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeRoom:
		return "room"
	case ShapeTown:
		return "town"
	case ShapeWorld:
		return "world"
	case ShapeTileMap:
		return "tilemap"
	default:
		return "invalid"
	}
}

// Location is the hierarchical address of a point in the map space.
// It is a value type: assigning or passing a Location copies it, so two
// owners never share one.
//
// Malformed combinations such as BuildingID >= 0 with TownID < 0 are not
// rejected; such a location reports ShapeWorld.
type Location struct {
	WorldID       int `yaml:"world"`
	TownID        int `yaml:"town"`
	BuildingID    int `yaml:"building"`
	InteriorMapID int `yaml:"interior_map"`
	RoomID        int `yaml:"room"`
	TileMapID     int `yaml:"tile_map"`
}

// WorldLocation returns a World-shaped location.
func WorldLocation(worldID int) Location {
	return Location{
		WorldID:       worldID,
		TownID:        Unset,
		BuildingID:    Unset,
		InteriorMapID: Unset,
		RoomID:        Unset,
		TileMapID:     Unset,
	}
}

// TownLocation returns a Town-shaped location.
func TownLocation(worldID, townID int) Location {
	l := WorldLocation(worldID)
	l.TownID = townID
	return l
}

// RoomLocation returns a Room-shaped location.
func RoomLocation(worldID, townID, buildingID, interiorMapID, roomID int) Location {
	return Location{
		WorldID:       worldID,
		TownID:        townID,
		BuildingID:    buildingID,
		InteriorMapID: interiorMapID,
		RoomID:        roomID,
		TileMapID:     Unset,
	}
}

// TileMapLocation returns a TileMap-shaped location. The world id is kept so
// the tile map can be resolved within its world.
func TileMapLocation(worldID, tileMapID int) Location {
	l := WorldLocation(worldID)
	l.TileMapID = tileMapID
	return l
}

// IsRoom reports whether l addresses a room.
func (l Location) IsRoom() bool {
	return l.BuildingID >= 0 && l.TownID >= 0
}

// IsTown reports whether l addresses a town map.
func (l Location) IsTown() bool {
	return l.TownID >= 0 && l.BuildingID < 0
}

// IsWorld reports whether l addresses a world map.
func (l Location) IsWorld() bool {
	return l.TownID < 0 && l.TileMapID < 0
}

// IsTileMap reports whether l addresses a standalone tile map.
func (l Location) IsTileMap() bool {
	return l.TileMapID >= 0
}

// Shape returns the shape of l, evaluating the predicates in the order
// Room, Town, World, TileMap. IsRoom must win over IsTown because a room
// location also carries TownID >= 0.
func (l Location) Shape() Shape {
	switch {
	case l.IsRoom():
		return ShapeRoom
	case l.IsTown():
		return ShapeTown
	case l.IsWorld():
		return ShapeWorld
	case l.IsTileMap():
		return ShapeTileMap
	default:
		return ShapeInvalid
	}
}

// Equal compares l and o on the fields that are meaningful for l's shape.
// Locations of different shapes are never equal.
func (l Location) Equal(o Location) bool {
	if l.Shape() != o.Shape() {
		return false
	}
	switch l.Shape() {
	case ShapeRoom:
		return l.WorldID == o.WorldID &&
			l.TownID == o.TownID &&
			l.BuildingID == o.BuildingID &&
			l.InteriorMapID == o.InteriorMapID &&
			l.RoomID == o.RoomID
	case ShapeTown:
		return l.WorldID == o.WorldID && l.TownID == o.TownID
	case ShapeWorld:
		return l.WorldID == o.WorldID
	case ShapeTileMap:
		return l.TileMapID == o.TileMapID
	default:
		return false
	}
}

// Key returns l with every field outside its shape reset to Unset, so that
// two locations which are Equal also compare == and can share a map key.
func (l Location) Key() Location {
	switch l.Shape() {
	case ShapeRoom:
		return RoomLocation(l.WorldID, l.TownID, l.BuildingID, l.InteriorMapID, l.RoomID)
	case ShapeTown:
		return TownLocation(l.WorldID, l.TownID)
	case ShapeWorld:
		return WorldLocation(l.WorldID)
	case ShapeTileMap:
		k := WorldLocation(Unset)
		k.TileMapID = l.TileMapID
		return k
	default:
		return l
	}
}

// WithRoom returns a copy of l addressing roomID in the same interior map.
func (l Location) WithRoom(roomID int) Location {
	l.RoomID = roomID
	return l
}

// InteriorMapKey returns the location of l's interior map: l with RoomID unset.
func (l Location) InteriorMapKey() Location {
	l.RoomID = Unset
	return l
}

// String returns a human-readable description of l.
func (l Location) String() string {
	switch l.Shape() {
	case ShapeRoom:
		return fmt.Sprintf("room w%d t%d b%d i%d r%d", l.WorldID, l.TownID, l.BuildingID, l.InteriorMapID, l.RoomID)
	case ShapeTown:
		return fmt.Sprintf("town w%d t%d", l.WorldID, l.TownID)
	case ShapeWorld:
		return fmt.Sprintf("world w%d", l.WorldID)
	case ShapeTileMap:
		return fmt.Sprintf("tilemap w%d tm%d", l.WorldID, l.TileMapID)
	default:
		return fmt.Sprintf("invalid w%d", l.WorldID)
	}
}
