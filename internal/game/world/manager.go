package world

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
)

// ErrRegionNotFound is returned when a Location does not resolve to a region.
var ErrRegionNotFound = errors.New("region not found")

// Manager is the resolved world graph. Every cross reference (link rooms,
// exit owners, building entrances, parent pointers) is wired by NewManager
// before the Manager is returned, and the graph is not mutated afterwards,
// so lookups are safe for concurrent use without locking. Door state is the
// only runtime-mutable part and carries its own lock.
type Manager struct {
	worlds       map[int]*WorldMap
	towns        map[Location]*TownMap
	interiorMaps map[Location]*InteriorMap
	rooms        map[Location]*Room
	tileMaps     map[Location]*TileMap
	links        map[int]*RoomLink
	start        Start
	issues       []Issue
}

// NewManager resolves f into a wired graph.
//
// Resolve runs in two phases: the first indexes every region by Location
// and rejects duplicate ids; the second wires room links and map exits.
// Dangling references found in the second phase do not fail the load: they
// are recorded as Issues, logged at warn, and the offending link or exit is
// left inert.
//
// Precondition: f must come from LoadFromBytes or LoadFromFile and must not
// be resolved twice.
// Postcondition: Returns a Manager or an error on duplicate ids or an
// unresolvable start location.
func NewManager(f *File, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		worlds:       make(map[int]*WorldMap),
		towns:        make(map[Location]*TownMap),
		interiorMaps: make(map[Location]*InteriorMap),
		rooms:        make(map[Location]*Room),
		tileMaps:     make(map[Location]*TileMap),
		links:        make(map[int]*RoomLink),
	}
	if err := m.index(f.Worlds); err != nil {
		return nil, err
	}
	m.wireLinks()
	m.wireExits()

	if f.hasStart {
		m.start = f.Start
	} else if len(f.Worlds) > 0 {
		w := f.Worlds[0]
		m.start = Start{Location: w.Location(), Position: w.Insertion}
	}
	if _, err := m.Region(m.start.Location); err != nil {
		return nil, fmt.Errorf("start location %s: %w", m.start.Location, err)
	}

	for _, is := range m.issues {
		logger.Warn("world data integrity",
			zap.String("kind", is.Kind.String()),
			zap.String("location", is.Location.String()),
			zap.String("detail", is.Detail),
		)
	}
	return m, nil
}

func (m *Manager) index(worlds []*WorldMap) error {
	for _, w := range worlds {
		if _, dup := m.worlds[w.ID]; dup {
			return fmt.Errorf("duplicate world ID %d", w.ID)
		}
		w.location = WorldLocation(w.ID)
		m.worlds[w.ID] = w

		for _, t := range w.Towns {
			t.location = TownLocation(w.ID, t.ID)
			t.world = w
			if _, dup := m.towns[t.location.Key()]; dup {
				return fmt.Errorf("duplicate town ID %d in world %d", t.ID, w.ID)
			}
			m.towns[t.location.Key()] = t
			if err := m.indexBuildings(t); err != nil {
				return err
			}
		}

		for _, tm := range w.TileMaps {
			tm.location = TileMapLocation(w.ID, tm.ID)
			tm.world = w
			if _, dup := m.tileMaps[tm.location.Key()]; dup {
				return fmt.Errorf("duplicate tile map ID %d", tm.ID)
			}
			m.tileMaps[tm.location.Key()] = tm
		}
	}
	return nil
}

func (m *Manager) indexBuildings(t *TownMap) error {
	seen := make(map[int]bool, len(t.Buildings))
	for _, b := range t.Buildings {
		if seen[b.ID] {
			return fmt.Errorf("duplicate building ID %d in %s", b.ID, t.location)
		}
		seen[b.ID] = true
		b.town = t
		for _, im := range b.InteriorMaps {
			im.building = b
			im.location = RoomLocation(t.location.WorldID, t.ID, b.ID, im.ID, Unset)
			if _, dup := m.interiorMaps[im.location.Key()]; dup {
				return fmt.Errorf("duplicate interior map ID %d in building %d of %s", im.ID, b.ID, t.location)
			}
			m.interiorMaps[im.location.Key()] = im
			for _, r := range im.Rooms {
				r.interiorMap = im
				r.location = im.location.WithRoom(r.ID)
				if _, dup := m.rooms[r.location.Key()]; dup {
					return fmt.Errorf("duplicate room ID %d in %s", r.ID, im.location)
				}
				m.rooms[r.location.Key()] = r
			}
		}
	}
	return nil
}

// wireLinks makes every link id map to one canonical instance shared by
// both of its rooms.
func (m *Manager) wireLinks() {
	var order []*RoomLink
	for _, im := range m.sortedInteriorMaps() {
		for _, r := range im.Rooms {
			kept := r.Links[:0]
			inRoom := make(map[int]bool, len(r.Links))
			for _, l := range r.Links {
				if l.Room1ID != r.ID && l.Room2ID != r.ID {
					m.issue(IssueForeignLink, r.location, "link %d joins rooms %d and %d", l.ID, l.Room1ID, l.Room2ID)
					continue
				}
				canon, ok := m.links[l.ID]
				if !ok {
					m.links[l.ID] = l
					canon = l
					order = append(order, l)
				} else if canon != l && !sameLink(canon, l) {
					m.issue(IssueConflictingLink, r.location, "link %d redefined; keeping first definition", l.ID)
				}
				if inRoom[l.ID] {
					continue
				}
				inRoom[l.ID] = true
				kept = append(kept, canon)
			}
			r.Links = kept
		}
	}

	for _, l := range order {
		// A link is owned by the interior map of the room that first listed it.
		im := m.linkInteriorMap(l)
		r1, ok1 := im.Room(l.Room1ID)
		r2, ok2 := im.Room(l.Room2ID)
		if !ok1 || !ok2 || r1 == r2 {
			m.issue(IssueDanglingLink, im.location, "link %d joins rooms %d and %d", l.ID, l.Room1ID, l.Room2ID)
			continue
		}
		l.room1, l.room2 = r1, r2
		for _, r := range []*Room{r1, r2} {
			if !hasLink(r, l) {
				m.issue(IssueHalfLink, r.location, "link %d added", l.ID)
				r.Links = append(r.Links, l)
			}
		}
	}
}

func (m *Manager) linkInteriorMap(l *RoomLink) *InteriorMap {
	for _, im := range m.sortedInteriorMaps() {
		for _, r := range im.Rooms {
			if hasLink(r, l) {
				return im
			}
		}
	}
	return nil
}

func (m *Manager) wireExits() {
	for _, w := range m.sortedWorlds() {
		for _, t := range w.Towns {
			m.wireExitList(t.location, t.Exits)
			for _, b := range t.Buildings {
				b.exits = nil
				for _, im := range b.InteriorMaps {
					for _, r := range im.Rooms {
						m.wireExitList(r.location, r.Exits)
						for _, e := range r.Exits {
							if e.Type == BuildingExit {
								b.exits = append(b.exits, e)
							}
						}
					}
				}
			}
		}
		for _, tm := range w.TileMaps {
			m.wireExitList(tm.location, tm.Exits)
		}
	}
}

func (m *Manager) wireExitList(owner Location, exits []*MapExit) {
	for i, e := range exits {
		e.ID = i
		e.owner = owner
		if _, err := m.Region(e.Target); err != nil {
			e.inert = true
			m.issue(IssueDanglingExit, owner, "exit %d targets %s", i, e.Target)
		}
	}
}

func (m *Manager) issue(kind IssueKind, loc Location, format string, args ...any) {
	m.issues = append(m.issues, Issue{Kind: kind, Location: loc, Detail: fmt.Sprintf(format, args...)})
}

// sortedWorlds returns worlds in id order so resolve output is deterministic.
func (m *Manager) sortedWorlds() []*WorldMap {
	ids := make([]int, 0, len(m.worlds))
	for id := range m.worlds {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*WorldMap, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.worlds[id])
	}
	return out
}

func (m *Manager) sortedInteriorMaps() []*InteriorMap {
	var out []*InteriorMap
	for _, w := range m.sortedWorlds() {
		for _, t := range w.Towns {
			for _, b := range t.Buildings {
				out = append(out, b.InteriorMaps...)
			}
		}
	}
	return out
}

func hasLink(r *Room, l *RoomLink) bool {
	for _, x := range r.Links {
		if x == l {
			return true
		}
	}
	return false
}

func sameLink(a, b *RoomLink) bool {
	return a.Rect == b.Rect && a.Room1ID == b.Room1ID && a.Room2ID == b.Room2ID
}

// Region resolves loc to its container.
//
// Postcondition: Returns ErrRegionNotFound if loc does not resolve.
func (m *Manager) Region(loc Location) (Region, error) {
	switch loc.Shape() {
	case ShapeRoom:
		if r, ok := m.rooms[loc.Key()]; ok {
			return r, nil
		}
	case ShapeTown:
		if t, ok := m.towns[loc.Key()]; ok {
			return t, nil
		}
	case ShapeWorld:
		if w, ok := m.worlds[loc.WorldID]; ok {
			return w, nil
		}
	case ShapeTileMap:
		if tm, ok := m.tileMaps[loc.Key()]; ok {
			return tm, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", loc, ErrRegionNotFound)
}

// Room returns the room at loc.
func (m *Manager) Room(loc Location) (*Room, bool) {
	if !loc.IsRoom() {
		return nil, false
	}
	r, ok := m.rooms[loc.Key()]
	return r, ok
}

// Town returns the town at loc.
func (m *Manager) Town(loc Location) (*TownMap, bool) {
	if loc.Shape() != ShapeTown {
		return nil, false
	}
	t, ok := m.towns[loc.Key()]
	return t, ok
}

// World returns the world with the given id.
func (m *Manager) World(id int) (*WorldMap, bool) {
	w, ok := m.worlds[id]
	return w, ok
}

// TileMap returns the tile map at loc.
func (m *Manager) TileMap(loc Location) (*TileMap, bool) {
	if loc.Shape() != ShapeTileMap {
		return nil, false
	}
	tm, ok := m.tileMaps[loc.Key()]
	return tm, ok
}

// InteriorMap returns the interior map holding the room at loc.
func (m *Manager) InteriorMap(loc Location) (*InteriorMap, bool) {
	if !loc.IsRoom() {
		return nil, false
	}
	im, ok := m.interiorMaps[loc.InteriorMapKey().Key()]
	return im, ok
}

// Link returns the canonical room link with the given id.
func (m *Manager) Link(id int) (*RoomLink, bool) {
	l, ok := m.links[id]
	return l, ok
}

// Rooms returns every room in resolve order.
//
// Postcondition: Returns a non-nil slice; may be empty.
func (m *Manager) Rooms() []*Room {
	out := make([]*Room, 0, len(m.rooms))
	for _, im := range m.sortedInteriorMaps() {
		out = append(out, im.Rooms...)
	}
	return out
}

// TileMaps returns every tile map in resolve order.
func (m *Manager) TileMaps() []*TileMap {
	out := make([]*TileMap, 0, len(m.tileMaps))
	for _, w := range m.sortedWorlds() {
		out = append(out, w.TileMaps...)
	}
	return out
}

// Worlds returns every world in id order.
func (m *Manager) Worlds() []*WorldMap {
	return m.sortedWorlds()
}

// Start returns the spawn location and position.
func (m *Manager) Start() Start {
	return m.start
}

// StartPosition returns the insertion point of loc's region.
//
// Postcondition: Returns an error wrapping ErrRegionNotFound if loc does not
// resolve.
func (m *Manager) StartPosition(loc Location) (geom.Point, error) {
	r, err := m.Region(loc)
	if err != nil {
		return geom.Point{}, err
	}
	return r.InsertionPoint(), nil
}

// Issues returns the data-integrity problems found during resolve.
func (m *Manager) Issues() []Issue {
	out := make([]Issue, len(m.issues))
	copy(out, m.issues)
	return out
}

// RoomCount returns the number of rooms across all worlds.
func (m *Manager) RoomCount() int {
	return len(m.rooms)
}
