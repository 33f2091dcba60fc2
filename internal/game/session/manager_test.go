package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/router"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

var (
	roomA = world.RoomLocation(0, 0, 0, 0, 0)
	roomB = world.RoomLocation(0, 0, 0, 0, 1)
)

func testBody(loc world.Location) *Body {
	return NewBody(loc, geom.Point{X: 10, Y: 10}, 0, 16, 16, 100)
}

func TestBridgeEntity_Push(t *testing.T) {
	e := NewBridgeEntity("test", 4)
	require.NoError(t, e.Push(router.Message{Kind: router.KindChat, Text: "hello"}))

	msg := <-e.Events()
	assert.Equal(t, "hello", msg.Text)
}

func TestBridgeEntity_PushClosed(t *testing.T) {
	e := NewBridgeEntity("test", 4)
	require.NoError(t, e.Close())
	assert.True(t, e.IsClosed())
	assert.Error(t, e.Push(router.Message{}))
}

func TestBridgeEntity_PushFull(t *testing.T) {
	e := NewBridgeEntity("test", 1)
	require.NoError(t, e.Push(router.Message{}))
	err := e.Push(router.Message{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "buffer full")
}

func TestBridgeEntity_CloseIdempotent(t *testing.T) {
	e := NewBridgeEntity("test", 4)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, e.IsClosed())
}

func TestBridgeEntity_Drain(t *testing.T) {
	e := NewBridgeEntity("test", 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Push(router.Message{Kind: router.KindPosition}))
	}
	assert.Len(t, e.Drain(), 3)
	assert.Empty(t, e.Drain())

	require.NoError(t, e.Push(router.Message{}))
	require.NoError(t, e.Close())
	assert.Len(t, e.Drain(), 1)
}

func TestManager_AddPlayer(t *testing.T) {
	m := NewManager(0)
	sess, err := m.AddPlayer("u1", "Alice", testBody(roomA))
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.Name)
	assert.Equal(t, "u1", sess.Entity.UID())
	assert.Equal(t, 1, m.PlayerCount())
}

func TestManager_AddPlayerDuplicate(t *testing.T) {
	m := NewManager(0)
	_, err := m.AddPlayer("u1", "Alice", testBody(roomA))
	require.NoError(t, err)
	_, err = m.AddPlayer("u1", "Alice", testBody(roomA))
	assert.ErrorIs(t, err, ErrPlayerExists)
}

func TestManager_RemovePlayer(t *testing.T) {
	m := NewManager(0)
	_, err := m.AddPlayer("u1", "Alice", testBody(roomA))
	require.NoError(t, err)

	sess, err := m.RemovePlayer("u1")
	require.NoError(t, err)
	assert.True(t, sess.Entity.IsClosed())
	assert.Equal(t, 0, m.PlayerCount())

	_, err = m.RemovePlayer("u1")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestManager_GetPlayer(t *testing.T) {
	m := NewManager(0)
	_, err := m.AddPlayer("u1", "Alice", testBody(roomA))
	require.NoError(t, err)

	sess, ok := m.GetPlayer("u1")
	assert.True(t, ok)
	assert.Equal(t, "Alice", sess.Name)

	_, ok = m.GetPlayer("unknown")
	assert.False(t, ok)
}

func TestManager_PlayersAt(t *testing.T) {
	m := NewManager(0)
	_, _ = m.AddPlayer("u2", "Bob", testBody(roomB))
	_, _ = m.AddPlayer("u1", "Alice", testBody(roomA))
	_, _ = m.AddPlayer("u3", "Carol", testBody(roomA))

	assert.Equal(t, []string{"u1", "u3"}, m.PlayersAt(roomA))
	assert.Equal(t, []string{"u2"}, m.PlayersAt(roomB))

	players := m.Players()
	require.Len(t, players, 3)
	assert.Equal(t, "u1", players[0].UID)
}

func TestManager_ConcurrentAddRemove(t *testing.T) {
	m := NewManager(0)
	const n = 100
	var wg sync.WaitGroup

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _ = m.AddPlayer(fmt.Sprintf("u%d", i), fmt.Sprintf("Player%d", i), testBody(roomA))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, m.PlayerCount())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _ = m.RemovePlayer(fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.PlayerCount())
	assert.Empty(t, m.PlayersAt(roomA))
}

func TestPropertyPlayersAtPartitionsPlayers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(0)
		rooms := []world.Location{roomA, roomB, world.TownLocation(0, 0)}
		numPlayers := rapid.IntRange(1, 20).Draw(t, "num_players")

		bodies := make([]*Body, numPlayers)
		for i := 0; i < numPlayers; i++ {
			loc := rooms[rapid.IntRange(0, len(rooms)-1).Draw(t, "room_idx")]
			bodies[i] = testBody(loc)
			_, _ = m.AddPlayer(fmt.Sprintf("p%d", i), fmt.Sprintf("Player%d", i), bodies[i])
		}

		numMoves := rapid.IntRange(0, numPlayers*2).Draw(t, "num_moves")
		for i := 0; i < numMoves; i++ {
			b := bodies[rapid.IntRange(0, numPlayers-1).Draw(t, "move_player")]
			loc := rooms[rapid.IntRange(0, len(rooms)-1).Draw(t, "move_room")]
			b.Relocate(loc, geom.Point{}, 0)
		}

		numRemoves := rapid.IntRange(0, numPlayers/2).Draw(t, "num_removes")
		for i := 0; i < numRemoves; i++ {
			_, _ = m.RemovePlayer(fmt.Sprintf("p%d", rapid.IntRange(0, numPlayers-1).Draw(t, "remove_player")))
		}

		total := 0
		for _, loc := range rooms {
			total += len(m.PlayersAt(loc))
		}
		if total != m.PlayerCount() {
			t.Fatalf("occupancy sum %d != player count %d", total, m.PlayerCount())
		}
	})
}
