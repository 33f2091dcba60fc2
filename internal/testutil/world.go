package testutil

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// WorldYAML is a small world used across package tests.
//
// Town 0 holds building 0 whose interior map 0 has four rooms:
//
//	room 0 (x 0..100)  --link 1 (x 95..105)--  room 1 (x 100..200)
//	room 1             --link 2 (x 195..205)-- room 2 (x 200..300)
//	room 2             --link 3 (y 95..105, closed door)-- room 3 (south of room 2)
//
// Room 0 has a building exit back to town 0 and a town exit at
// (200,200,20,20) to town 1. Town 0 has a west gate to the world map.
// World 0 holds both towns and tile map 5.
const WorldYAML = `
start:
  location: {world: 0, town: 0, building: 0, interior_map: 0, room: 0}
  position: {x: 50, y: 50}
worlds:
  - id: 0
    name: Valoria
    insertion: {x: 500, y: 500}
    towns:
      - id: 0
        name: Harrowgate
        rect: {x: 1000, y: 1000, width: 400, height: 400}
        insertion: {x: 200, y: 200}
        exits:
          - name: west gate
            type: town
            side: west
            rect: {x: 0, y: 190, width: 10, height: 40}
            target: {world: 0}
            target_position: {x: 980, y: 1200}
        buildings:
          - id: 0
            name: Keep
            rect: {x: 300, y: 300, width: 100, height: 80}
            interior_maps:
              - id: 0
                name: Ground floor
                rooms:
                  - id: 0
                    name: West hall
                    insertion: {x: 50, y: 50}
                    links:
                      - id: 1
                        rect: {x: 95, y: 0, width: 10, height: 100}
                        room1: 0
                        room2: 1
                    exits:
                      - name: front door
                        type: building
                        side: south
                        rect: {x: 40, y: 90, width: 20, height: 10}
                        target: {world: 0, town: 0}
                        target_position: {x: 350, y: 395}
                      - name: trapdoor
                        type: town
                        rect: {x: 200, y: 200, width: 20, height: 20}
                        target: {world: 0, town: 1}
                        target_position: {x: 50, y: 50}
                  - id: 1
                    name: Great hall
                    insertion: {x: 150, y: 50}
                    links:
                      - id: 1
                        rect: {x: 95, y: 0, width: 10, height: 100}
                        room1: 0
                        room2: 1
                      - id: 2
                        rect: {x: 195, y: 0, width: 10, height: 100}
                        room1: 1
                        room2: 2
                  - id: 2
                    name: East hall
                    insertion: {x: 250, y: 50}
                    links:
                      - id: 2
                        rect: {x: 195, y: 0, width: 10, height: 100}
                        room1: 1
                        room2: 2
                      - id: 3
                        rect: {x: 200, y: 95, width: 100, height: 10}
                        room1: 2
                        room2: 3
                        door: {opened: false}
                  - id: 3
                    name: Cellar
                    insertion: {x: 250, y: 150}
                    links:
                      - id: 3
                        rect: {x: 200, y: 95, width: 100, height: 10}
                        room1: 2
                        room2: 3
                        door: {opened: false}
      - id: 1
        name: Underhollow
        rect: {x: 3000, y: 3000, width: 200, height: 200}
        insertion: {x: 100, y: 100}
        exits:
          - name: north gate
            type: town
            side: north
            rect: {x: 90, y: 0, width: 20, height: 10}
            target: {world: 0}
            target_position: {x: 3100, y: 2980}
    tile_maps:
      - id: 5
        name: Old mine
        insertion: {x: 20, y: 20}
        exits:
          - name: mine mouth
            type: tilemap
            rect: {x: 0, y: 0, width: 10, height: 10}
            target: {world: 0}
            target_position: {x: 600, y: 600}
`

// Room returns the location of room id in the WorldYAML interior map.
func Room(id int) world.Location {
	return world.RoomLocation(0, 0, 0, 0, id)
}

// NewWorld resolves WorldYAML into a Manager or fails the test.
//
// Postcondition: The returned Manager has no data-integrity issues.
func NewWorld(t testing.TB) *world.Manager {
	t.Helper()
	f, err := world.LoadFromBytes([]byte(WorldYAML))
	if err != nil {
		t.Fatalf("loading test world: %v", err)
	}
	m, err := world.NewManager(f, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("resolving test world: %v", err)
	}
	if issues := m.Issues(); len(issues) > 0 {
		t.Fatalf("test world has issues: %v", issues)
	}
	return m
}
