package world

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testWorldYAML is a world with one town, an inn of two rooms joined by a
// vertical link, a second town reachable from the inn's back room, and a
// tile map.
const testWorldYAML = `
start:
  location: {world: 0, town: 0, building: 0, interior_map: 0, room: 0}
  position: {x: 50, y: 50}
worlds:
  - id: 0
    name: Valoria
    insertion: {x: 400, y: 400}
    towns:
      - id: 0
        name: Harrowgate
        rect: {x: 1000, y: 1000, width: 200, height: 200}
        insertion: {x: 100, y: 100}
        exits:
          - name: west gate
            type: town
            side: west
            rect: {x: 0, y: 90, width: 10, height: 40}
            target: {world: 0}
            target_position: {x: 980, y: 1100}
          - name: east gate
            type: town
            side: east
            rect: {x: 790, y: 90, width: 10, height: 40}
            target: {world: 0}
            target_position: {x: 1220, y: 1100}
        buildings:
          - id: 0
            name: The Gilded Inn
            rect: {x: 300, y: 300, width: 100, height: 80}
            interior_maps:
              - id: 0
                name: Ground floor
                rooms:
                  - id: 0
                    name: Common room
                    short_name: common
                    insertion: {x: 50, y: 50}
                    links:
                      - id: 7
                        rect: {x: 95, y: 0, width: 10, height: 100}
                        room1: 0
                        room2: 1
                    exits:
                      - name: front door
                        type: building
                        side: south
                        rect: {x: 40, y: 90, width: 20, height: 10}
                        target: {world: 0, town: 0}
                        target_position: {x: 350, y: 390}
                  - id: 1
                    name: Kitchen
                    short_name: kitchen
                    insertion: {x: 150, y: 50}
                    links:
                      - id: 7
                        rect: {x: 95, y: 0, width: 10, height: 100}
                        room1: 0
                        room2: 1
                    exits:
                      - name: back door
                        type: building
                        side: north
                        rect: {x: 140, y: 0, width: 20, height: 10}
                        target: {world: 0, town: 0}
                        target_position: {x: 350, y: 290}
                      - name: cellar stairs
                        type: town
                        rect: {x: 180, y: 80, width: 20, height: 20}
                        target: {world: 0, town: 1}
                        target_position: {x: 50, y: 50}
      - id: 1
        name: Underhollow
        rect: {x: 2000, y: 2000, width: 100, height: 100}
        insertion: {x: 20, y: 20}
        exits:
          - name: gate
            type: town
            side: north
            rect: {x: 40, y: 0, width: 20, height: 10}
            target: {world: 0}
            target_position: {x: 2050, y: 1980}
    tile_maps:
      - id: 3
        name: Old mine
        insertion: {x: 10, y: 10}
        exits:
          - name: mine mouth
            type: tilemap
            rect: {x: 0, y: 0, width: 10, height: 10}
            target: {world: 0}
            target_position: {x: 600, y: 600}
`

func loadTestWorld(t *testing.T) *Manager {
	t.Helper()
	f, err := LoadFromBytes([]byte(testWorldYAML))
	require.NoError(t, err)
	m, err := NewManager(f, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func mustRoom(t *testing.T, m *Manager, roomID int) *Room {
	t.Helper()
	r, ok := m.Room(RoomLocation(0, 0, 0, 0, roomID))
	require.True(t, ok, "room %d", roomID)
	return r
}
