package router_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mapworld/internal/game/router"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/observability"
	"github.com/cory-johannsen/mapworld/internal/testutil"
)

type recorder struct {
	uid  string
	fail bool

	mu   sync.Mutex
	msgs []router.Message
}

func newRecorder(uid string) *recorder { return &recorder{uid: uid} }

func (r *recorder) UID() string { return r.uid }

func (r *recorder) Push(m router.Message) error {
	if r.fail {
		return errors.New("buffer full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) take() []router.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

func kinds(msgs []router.Message) []router.Kind {
	out := make([]router.Kind, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	world   *world.Manager
	factory *router.Factory
	metrics *observability.Metrics
	rooms   []*router.Router
}

func newFixture(t *testing.T, hooks router.Hooks) *fixture {
	t.Helper()
	w := testutil.NewWorld(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	f := router.NewFactory(hooks, metrics, zaptest.NewLogger(t))
	fx := &fixture{world: w, factory: f, metrics: metrics}
	for i := 0; i < 4; i++ {
		room, ok := w.Room(testutil.Room(i))
		require.True(t, ok)
		fx.rooms = append(fx.rooms, f.CreateForRoom(room))
	}
	return fx
}

func TestFactory_CreateIsIdempotent(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	room, _ := fx.world.Room(testutil.Room(1))
	assert.Same(t, fx.rooms[1], fx.factory.CreateForRoom(room))

	tm, ok := fx.world.TileMap(world.TileMapLocation(0, 5))
	require.True(t, ok)
	a := fx.factory.CreateForTileMap(tm)
	b, err := fx.factory.Create(tm)
	require.NoError(t, err)
	assert.Same(t, a, b)

	got, ok := fx.factory.Get(testutil.Room(2))
	require.True(t, ok)
	assert.Same(t, fx.rooms[2], got)
}

func TestRouter_NearRooms(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	assert.Equal(t, []world.Location{testutil.Room(1)}, fx.rooms[0].Near())
	assert.ElementsMatch(t, []world.Location{testutil.Room(0), testutil.Room(2)}, fx.rooms[1].Near())
	assert.True(t, fx.rooms[2].IsNear(testutil.Room(3)))
	assert.False(t, fx.rooms[0].IsNear(testutil.Room(2)))
}

func TestRouter_JoinAnnouncesToExtendedGroup(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice, bob, carol := newRecorder("alice"), newRecorder("bob"), newRecorder("carol")

	require.NoError(t, fx.rooms[0].Join(alice))
	require.NoError(t, fx.rooms[2].Join(carol))
	alice.take()
	carol.take()

	require.NoError(t, fx.rooms[1].Join(bob))

	// Both neighbours see bob arrive.
	for _, r := range []*recorder{alice, carol} {
		msgs := r.take()
		require.Len(t, msgs, 1, r.uid)
		assert.Equal(t, router.KindAddPlayer, msgs[0].Kind)
		assert.Equal(t, "bob", msgs[0].Sender)
		assert.Equal(t, testutil.Room(1), msgs[0].Region)
	}

	// Bob gets one snapshot for his room and one per near room.
	msgs := bob.take()
	require.Len(t, msgs, 3)
	players := map[world.Location][]string{}
	for _, m := range msgs {
		assert.Equal(t, router.KindRoomPlayers, m.Kind)
		players[m.Region] = m.Players
	}
	assert.Empty(t, players[testutil.Room(1)])
	assert.Equal(t, []string{"alice"}, players[testutil.Room(0)])
	assert.Equal(t, []string{"carol"}, players[testutil.Room(2)])
}

func TestRouter_JoinTwiceFails(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice := newRecorder("alice")
	require.NoError(t, fx.rooms[0].Join(alice))
	assert.ErrorIs(t, fx.rooms[0].Join(alice), router.ErrAlreadyMember)
	assert.ErrorIs(t, fx.rooms[3].Join(alice), router.ErrAlreadyMember)
	assert.Equal(t, 1, fx.factory.Memberships("alice"))
}

func TestRouter_Leave(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice, bob := newRecorder("alice"), newRecorder("bob")
	require.NoError(t, fx.rooms[0].Join(alice))
	require.NoError(t, fx.rooms[1].Join(bob))
	alice.take()

	assert.ErrorIs(t, fx.rooms[0].Leave("bob"), router.ErrNotMember)
	require.NoError(t, fx.rooms[1].Leave("bob"))

	msgs := alice.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, router.KindRemovePlayer, msgs[0].Kind)
	assert.Equal(t, "bob", msgs[0].Sender)
	_, ok := fx.factory.RouterOf("bob")
	assert.False(t, ok)
}

func TestRouter_MoveTo(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice, bob, carol := newRecorder("alice"), newRecorder("bob"), newRecorder("carol")
	require.NoError(t, fx.rooms[0].Join(alice))
	require.NoError(t, fx.rooms[0].Join(bob))
	require.NoError(t, fx.rooms[2].Join(carol))
	alice.take()
	bob.take()
	carol.take()

	committed := false
	require.NoError(t, fx.rooms[0].MoveTo("alice", fx.rooms[1], func() { committed = true }))
	assert.True(t, committed)

	// Bob stays in room 0 and sees the location change.
	assert.Equal(t, []router.Kind{router.KindLocationChange}, kinds(bob.take()))

	// Room 2 comes into view: carol sees alice appear.
	cm := carol.take()
	require.Len(t, cm, 1)
	assert.Equal(t, router.KindAddPlayer, cm[0].Kind)
	assert.Equal(t, testutil.Room(1), cm[0].Region)

	// Alice receives the roster of the room that came into view.
	am := alice.take()
	require.Len(t, am, 1)
	assert.Equal(t, router.KindRoomPlayers, am[0].Kind)
	assert.Equal(t, testutil.Room(2), am[0].Region)
	assert.Equal(t, []string{"carol"}, am[0].Players)

	r, ok := fx.factory.RouterOf("alice")
	require.True(t, ok)
	assert.Same(t, fx.rooms[1], r)
	assert.Equal(t, 1.0, promtest.ToFloat64(fx.metrics.TransitionsTotal.WithLabelValues(observability.TransitionRoom)))
}

func TestRouter_MoveToDropsRoomsOutOfView(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice, dave := newRecorder("alice"), newRecorder("dave")
	require.NoError(t, fx.rooms[2].Join(alice))
	require.NoError(t, fx.rooms[3].Join(dave))
	alice.take()
	dave.take()

	require.NoError(t, fx.rooms[2].MoveTo("alice", fx.rooms[1], nil))
	assert.Equal(t, []router.Kind{router.KindRemovePlayer}, kinds(dave.take()))
}

func TestRouter_MoveToNotNear(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice := newRecorder("alice")
	require.NoError(t, fx.rooms[0].Join(alice))

	committed := false
	err := fx.rooms[0].MoveTo("alice", fx.rooms[2], func() { committed = true })
	assert.ErrorIs(t, err, router.ErrNotNear)
	assert.False(t, committed)
	r, _ := fx.factory.RouterOf("alice")
	assert.Same(t, fx.rooms[0], r)

	assert.ErrorIs(t, fx.rooms[1].MoveTo("alice", fx.rooms[0], nil), router.ErrNotMember)
}

func TestRouter_BroadcastGroups(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice, bob, carol := newRecorder("alice"), newRecorder("bob"), newRecorder("carol")
	require.NoError(t, fx.rooms[1].Join(alice))
	require.NoError(t, fx.rooms[1].Join(bob))
	require.NoError(t, fx.rooms[2].Join(carol))

	msg := router.Message{Kind: router.KindChat, Sender: "alice", Text: "hail"}
	assert.Equal(t, 1, fx.rooms[1].Broadcast(msg, "alice", router.LocalGroup))
	assert.Equal(t, 2, fx.rooms[1].Broadcast(msg, "alice", router.ExtendedGroup))
	assert.Equal(t, 1, fx.rooms[1].BroadcastToLinkedRegions(msg, "alice"))
	assert.Equal(t, 2, fx.rooms[1].Broadcast(msg, "", router.LocalGroup))
}

func TestFactory_BroadcastAtMissingRouterIsNoop(t *testing.T) {
	f := router.NewFactory(router.Hooks{}, nil, zaptest.NewLogger(t))
	n := f.BroadcastAt(world.TownLocation(0, 9), router.Message{Kind: router.KindChat}, "", router.ExtendedGroup)
	assert.Equal(t, 0, n)
}

func TestRouter_DroppedMessagesCounted(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	full := newRecorder("full")
	full.fail = true
	require.NoError(t, fx.rooms[0].Join(full))
	assert.Equal(t, 0, fx.rooms[0].Broadcast(router.Message{Kind: router.KindChat}, "", router.LocalGroup))
	assert.GreaterOrEqual(t, promtest.ToFloat64(fx.metrics.MessagesDropped), 2.0)
}

func TestFactory_SwapCallsHooksLeaveThenJoin(t *testing.T) {
	var mu sync.Mutex
	var events []string
	hooks := router.Hooks{
		OnJoin: func(uid string, region world.Location) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "join "+region.String())
		},
		OnLeave: func(uid string, region world.Location) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "leave "+region.String())
		},
	}
	fx := newFixture(t, hooks)
	town, ok := fx.world.Town(world.TownLocation(0, 1))
	require.True(t, ok)
	townRouter := fx.factory.CreateForTown(town)

	alice := newRecorder("alice")
	require.NoError(t, fx.factory.Swap(alice, fx.rooms[0], nil))
	require.NoError(t, fx.factory.Swap(alice, townRouter, nil))

	assert.Equal(t, []string{
		"join " + testutil.Room(0).String(),
		"leave " + testutil.Room(0).String(),
		"join " + world.TownLocation(0, 1).String(),
	}, events)
	assert.Equal(t, 0, fx.rooms[0].Len())
	assert.Equal(t, []string{"alice"}, townRouter.Members())
	assert.Equal(t, 1.0, promtest.ToFloat64(fx.metrics.TransitionsTotal.WithLabelValues(observability.TransitionMap)))
}

// gatedRecorder blocks its first Push after arm until release is closed.
type gatedRecorder struct {
	*recorder
	armed   chan struct{}
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRecorder(uid string) *gatedRecorder {
	return &gatedRecorder{
		recorder: newRecorder(uid),
		armed:    make(chan struct{}),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedRecorder) Push(m router.Message) error {
	select {
	case <-g.armed:
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	default:
	}
	return g.recorder.Push(m)
}

func TestFactory_HooksFollowCommitOrderWhileDeliveryBlocks(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(what string) func(string, world.Location) {
		return func(uid string, region world.Location) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, what+" "+region.String())
		}
	}
	fx := newFixture(t, router.Hooks{OnJoin: record("join"), OnLeave: record("leave")})

	alice := newGatedRecorder("alice")
	require.NoError(t, fx.rooms[0].Join(alice))
	close(alice.armed)

	swapped := make(chan error, 1)
	go func() { swapped <- fx.factory.Swap(alice, fx.rooms[2], nil) }()
	<-alice.entered

	removed := make(chan error, 1)
	go func() { removed <- fx.factory.Remove("alice") }()
	require.Eventually(t, func() bool { return fx.factory.Memberships("alice") == 0 },
		time.Second, time.Millisecond)

	close(alice.release)
	require.NoError(t, <-swapped)
	require.NoError(t, <-removed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"join " + testutil.Room(0).String(),
		"leave " + testutil.Room(0).String(),
		"join " + testutil.Room(2).String(),
		"leave " + testutil.Room(2).String(),
	}, events)
}

func TestFactory_SwapAbortedByCommit(t *testing.T) {
	joins := 0
	fx := newFixture(t, router.Hooks{OnJoin: func(string, world.Location) { joins++ }})
	alice := newRecorder("alice")
	require.NoError(t, fx.rooms[0].Join(alice))
	alice.take()

	err := fx.factory.Swap(alice, fx.rooms[2], func() bool { return false })
	assert.ErrorIs(t, err, router.ErrSwapAborted)
	assert.Equal(t, []string{"alice"}, fx.rooms[0].Members())
	assert.Equal(t, 0, fx.rooms[2].Len())
	assert.Empty(t, alice.take())
	assert.Equal(t, 1, joins)

	assert.ErrorIs(t, fx.factory.Swap(newRecorder("bob"), fx.rooms[2], func() bool { return false }), router.ErrSwapAborted)
	assert.Equal(t, 0, fx.factory.Memberships("bob"))
}

func TestFactory_Remove(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	alice := newRecorder("alice")
	assert.ErrorIs(t, fx.factory.Remove("alice"), router.ErrNotMember)
	require.NoError(t, fx.rooms[3].Join(alice))
	require.NoError(t, fx.factory.Remove("alice"))
	assert.Equal(t, 0, fx.factory.Memberships("alice"))
}

// Concurrent swaps and moves never leave an observer in two routers or, once
// it has joined, in none.
func TestFactory_SingleMembershipUnderConcurrency(t *testing.T) {
	fx := newFixture(t, router.Hooks{})
	const players = 8
	for i := 0; i < players; i++ {
		require.NoError(t, fx.rooms[i%4].Join(newRecorder(fmt.Sprintf("p%d", i))))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := newRecorder(fmt.Sprintf("p%d", i))
			for n := 0; n < 200; n++ {
				cur, ok := fx.factory.RouterOf(o.uid)
				if !ok {
					t.Errorf("%s lost its router", o.uid)
					return
				}
				if near := cur.Near(); len(near) > 0 && n%2 == 0 {
					next, _ := fx.factory.Get(near[n%len(near)])
					_ = cur.MoveTo(o.uid, next, nil)
					continue
				}
				_ = fx.factory.Swap(o, fx.rooms[(i+n)%4], nil)
			}
		}(i)
	}

	var checks sync.WaitGroup
	checks.Add(1)
	go func() {
		defer checks.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for i := 0; i < players; i++ {
				if n := fx.factory.Memberships(fmt.Sprintf("p%d", i)); n != 1 {
					t.Errorf("p%d is a member of %d routers", i, n)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	checks.Wait()
}
