package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// yamlFile is the top-level YAML structure for world files.
type yamlFile struct {
	Start  *yamlStart  `yaml:"start"`
	Worlds []yamlWorld `yaml:"worlds"`
}

type yamlStart struct {
	Location    yamlLocation `yaml:"location"`
	Position    yamlPoint    `yaml:"position"`
	Orientation float64      `yaml:"orientation"`
}

type yamlPoint struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type yamlRect struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// yamlLocation uses pointers so that omitted levels become Unset rather than 0.
type yamlLocation struct {
	World       *int `yaml:"world"`
	Town        *int `yaml:"town"`
	Building    *int `yaml:"building"`
	InteriorMap *int `yaml:"interior_map"`
	Room        *int `yaml:"room"`
	TileMap     *int `yaml:"tile_map"`
}

type yamlWorld struct {
	ID        int           `yaml:"id"`
	Name      string        `yaml:"name"`
	ShortName string        `yaml:"short_name"`
	Insertion yamlPoint     `yaml:"insertion"`
	Towns     []yamlTown    `yaml:"towns"`
	TileMaps  []yamlTileMap `yaml:"tile_maps"`
}

type yamlTown struct {
	ID        int            `yaml:"id"`
	Name      string         `yaml:"name"`
	ShortName string         `yaml:"short_name"`
	Rect      yamlRect       `yaml:"rect"`
	Insertion yamlPoint      `yaml:"insertion"`
	Exits     []yamlExit     `yaml:"exits"`
	Buildings []yamlBuilding `yaml:"buildings"`
}

type yamlBuilding struct {
	ID           int               `yaml:"id"`
	Name         string            `yaml:"name"`
	ShortName    string            `yaml:"short_name"`
	Rect         yamlRect          `yaml:"rect"`
	InteriorMaps []yamlInteriorMap `yaml:"interior_maps"`
}

type yamlInteriorMap struct {
	ID        int        `yaml:"id"`
	Name      string     `yaml:"name"`
	ShortName string     `yaml:"short_name"`
	Rooms     []yamlRoom `yaml:"rooms"`
}

type yamlRoom struct {
	ID         int        `yaml:"id"`
	Name       string     `yaml:"name"`
	ShortName  string     `yaml:"short_name"`
	Insertion  yamlPoint  `yaml:"insertion"`
	MaxPlayers int        `yaml:"max_players"`
	Links      []yamlLink `yaml:"links"`
	Exits      []yamlExit `yaml:"exits"`
}

type yamlLink struct {
	ID    int       `yaml:"id"`
	Rect  yamlRect  `yaml:"rect"`
	Room1 int       `yaml:"room1"`
	Room2 int       `yaml:"room2"`
	Door  *yamlDoor `yaml:"door"`
}

type yamlDoor struct {
	Locked bool `yaml:"locked"`
	Opened bool `yaml:"opened"`
}

type yamlExit struct {
	Name              string       `yaml:"name"`
	Type              string       `yaml:"type"`
	Side              string       `yaml:"side"`
	Rect              yamlRect     `yaml:"rect"`
	Target            yamlLocation `yaml:"target"`
	TargetPosition    yamlPoint    `yaml:"target_position"`
	TargetOrientation float64      `yaml:"target_orientation"`
	RequiredKnowledge *int         `yaml:"required_knowledge"`
}

type yamlTileMap struct {
	ID        int        `yaml:"id"`
	Name      string     `yaml:"name"`
	ShortName string     `yaml:"short_name"`
	Insertion yamlPoint  `yaml:"insertion"`
	Exits     []yamlExit `yaml:"exits"`
}

// LoadFromFile reads a world YAML file.
//
// Precondition: path must point to a world YAML file.
// Postcondition: Returns the unresolved File or a non-nil error.
func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a world from YAML bytes. Cross references are not
// checked here; NewManager resolves them.
//
// Precondition: data must be YAML conforming to the world schema.
// Postcondition: Returns the unresolved File or a non-nil error.
func LoadFromBytes(data []byte) (*File, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("parsing world YAML: %w", err)
	}
	if len(yf.Worlds) == 0 {
		return nil, fmt.Errorf("world file defines no worlds")
	}

	f := &File{}
	for _, yw := range yf.Worlds {
		w, err := convertWorld(yw)
		if err != nil {
			return nil, fmt.Errorf("world %d: %w", yw.ID, err)
		}
		f.Worlds = append(f.Worlds, w)
	}
	if yf.Start != nil {
		f.hasStart = true
		f.Start = Start{
			Location:    yf.Start.Location.toLocation(),
			Position:    yf.Start.Position.toPoint(),
			Orientation: yf.Start.Orientation,
		}
	}
	return f, nil
}

func convertWorld(yw yamlWorld) (*WorldMap, error) {
	w := &WorldMap{
		ID:        yw.ID,
		FullName:  yw.Name,
		ShortName: yw.ShortName,
		Insertion: yw.Insertion.toPoint(),
	}
	for _, yt := range yw.Towns {
		t := &TownMap{
			Rect:      yt.Rect.toRect(),
			ID:        yt.ID,
			FullName:  yt.Name,
			ShortName: yt.ShortName,
			Insertion: yt.Insertion.toPoint(),
		}
		exits, err := convertExits(yt.Exits)
		if err != nil {
			return nil, fmt.Errorf("town %d: %w", yt.ID, err)
		}
		t.Exits = exits
		for _, yb := range yt.Buildings {
			b, err := convertBuilding(yb)
			if err != nil {
				return nil, fmt.Errorf("town %d: building %d: %w", yt.ID, yb.ID, err)
			}
			t.Buildings = append(t.Buildings, b)
		}
		w.Towns = append(w.Towns, t)
	}
	for _, ytm := range yw.TileMaps {
		exits, err := convertExits(ytm.Exits)
		if err != nil {
			return nil, fmt.Errorf("tile map %d: %w", ytm.ID, err)
		}
		w.TileMaps = append(w.TileMaps, &TileMap{
			ID:        ytm.ID,
			FullName:  ytm.Name,
			ShortName: ytm.ShortName,
			Insertion: ytm.Insertion.toPoint(),
			Exits:     exits,
		})
	}
	return w, nil
}

func convertBuilding(yb yamlBuilding) (*Building, error) {
	b := &Building{
		Rect:      yb.Rect.toRect(),
		ID:        yb.ID,
		FullName:  yb.Name,
		ShortName: yb.ShortName,
	}
	for _, yi := range yb.InteriorMaps {
		im := &InteriorMap{
			ID:        yi.ID,
			FullName:  yi.Name,
			ShortName: yi.ShortName,
		}
		for _, yr := range yi.Rooms {
			r := &Room{
				ID:         yr.ID,
				FullName:   yr.Name,
				ShortName:  yr.ShortName,
				Insertion:  yr.Insertion.toPoint(),
				MaxPlayers: yr.MaxPlayers,
			}
			for _, yl := range yr.Links {
				l := &RoomLink{
					Rect:    yl.Rect.toRect(),
					ID:      yl.ID,
					Room1ID: yl.Room1,
					Room2ID: yl.Room2,
				}
				if yl.Door != nil {
					l.Door = NewDoor(yl.Door.Locked, yl.Door.Opened)
				}
				r.Links = append(r.Links, l)
			}
			exits, err := convertExits(yr.Exits)
			if err != nil {
				return nil, fmt.Errorf("interior map %d: room %d: %w", yi.ID, yr.ID, err)
			}
			r.Exits = exits
			im.Rooms = append(im.Rooms, r)
		}
		b.InteriorMaps = append(b.InteriorMaps, im)
	}
	return b, nil
}

func convertExits(yes []yamlExit) ([]*MapExit, error) {
	exits := make([]*MapExit, 0, len(yes))
	for i, ye := range yes {
		typ, err := ParseExitType(ye.Type)
		if err != nil {
			return nil, fmt.Errorf("exit %d: %w", i, err)
		}
		side, err := ParseSide(ye.Side)
		if err != nil {
			return nil, fmt.Errorf("exit %d: %w", i, err)
		}
		knowledge := NoKnowledge
		if ye.RequiredKnowledge != nil {
			knowledge = *ye.RequiredKnowledge
		}
		exits = append(exits, &MapExit{
			Rect:                ye.Rect.toRect(),
			Name:                ye.Name,
			Type:                typ,
			Side:                side,
			Target:              ye.Target.toLocation(),
			TargetPosition:      ye.TargetPosition.toPoint(),
			TargetOrientation:   ye.TargetOrientation,
			RequiredKnowledgeID: knowledge,
		})
	}
	return exits, nil
}

func (p yamlPoint) toPoint() geom.Point {
	return geom.Point{X: p.X, Y: p.Y}
}

func (r yamlRect) toRect() geom.Rect {
	return geom.R(r.X, r.Y, r.Width, r.Height)
}

func (l yamlLocation) toLocation() Location {
	get := func(p *int) int {
		if p == nil {
			return Unset
		}
		return *p
	}
	world := 0
	if l.World != nil {
		world = *l.World
	}
	return Location{
		WorldID:       world,
		TownID:        get(l.Town),
		BuildingID:    get(l.Building),
		InteriorMapID: get(l.InteriorMap),
		RoomID:        get(l.Room),
		TileMapID:     get(l.TileMap),
	}
}
