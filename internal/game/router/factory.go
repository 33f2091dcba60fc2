package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/observability"
)

// Sentinel errors for membership operations.
var (
	ErrAlreadyMember = errors.New("observer is already a member of a region")
	ErrNotMember     = errors.New("observer is not a member of this region")
	ErrNotNear       = errors.New("target region is not linked to this region")
	ErrSwapAborted   = errors.New("swap aborted by its commit")
)

// Factory creates routers on demand and owns the membership state of all of
// them. A single lock guards every router's member set together with the
// observer-to-router index, so a region swap is one critical section: no
// reader can see an observer in two regions or in none halfway through.
//
// Messages are pushed and hooks are called after the lock is released. Each
// membership change queues its messages and hook calls on an outbox while
// the lock is held, and the outbox is drained in that order by one goroutine
// at a time, so hooks for one uid always fire in the order the changes were
// committed. Push, OnJoin and OnLeave must not change membership themselves.
type Factory struct {
	mu       sync.RWMutex
	routers  map[world.Location]*Router
	memberOf map[string]*Router
	outbox   []batch

	dispatchMu sync.Mutex

	hooks   Hooks
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewFactory creates an empty Factory.
//
// Precondition: logger must not be nil; metrics may be nil.
func NewFactory(hooks Hooks, metrics *observability.Metrics, logger *zap.Logger) *Factory {
	return &Factory{
		routers:  make(map[world.Location]*Router),
		memberOf: make(map[string]*Router),
		hooks:    hooks,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateForRoom returns the router of room, creating it on first use. The
// router's near rooms are the rooms across room's resolved links.
//
// Postcondition: Calling it again for the same room returns the same router.
func (f *Factory) CreateForRoom(room *world.Room) *Router {
	near := room.NearRooms()
	locs := make([]world.Location, 0, len(near))
	for _, n := range near {
		locs = append(locs, n.Location().Key())
	}
	return f.create(room, locs)
}

// CreateForTileMap returns the router of tm, creating it on first use.
func (f *Factory) CreateForTileMap(tm *world.TileMap) *Router {
	return f.create(tm, nil)
}

// CreateForTown returns the router of t, creating it on first use.
func (f *Factory) CreateForTown(t *world.TownMap) *Router {
	return f.create(t, nil)
}

// CreateForWorld returns the router of w, creating it on first use.
func (f *Factory) CreateForWorld(w *world.WorldMap) *Router {
	return f.create(w, nil)
}

// Create dispatches to the CreateFor function matching region's type.
//
// Postcondition: Returns an error for region types without a router.
func (f *Factory) Create(region world.Region) (*Router, error) {
	switch r := region.(type) {
	case *world.Room:
		return f.CreateForRoom(r), nil
	case *world.TileMap:
		return f.CreateForTileMap(r), nil
	case *world.TownMap:
		return f.CreateForTown(r), nil
	case *world.WorldMap:
		return f.CreateForWorld(r), nil
	default:
		return nil, fmt.Errorf("no router for region type %T", region)
	}
}

func (f *Factory) create(region world.Region, near []world.Location) *Router {
	key := region.Location().Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.routers[key]; ok {
		return r
	}
	r := &Router{
		factory: f,
		region:  region,
		loc:     key,
		near:    near,
		members: make(map[string]Observer),
	}
	f.routers[key] = r
	return r
}

// Get returns the router of loc if one was created.
func (f *Factory) Get(loc world.Location) (*Router, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.routers[loc.Key()]
	return r, ok
}

// RouterOf returns the router uid is a member of.
func (f *Factory) RouterOf(uid string) (*Router, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.memberOf[uid]
	return r, ok
}

// Memberships counts the routers whose member set holds uid by scanning
// every router. It exists to check the single-membership guarantee.
func (f *Factory) Memberships(uid string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, r := range f.routers {
		if _, ok := r.members[uid]; ok {
			n++
		}
	}
	return n
}

// Swap moves o from its current region, if any, into to. commit runs inside
// the critical section before membership changes; callers use it to update
// the entity's Location and position so that no reader observes the
// Location and the membership out of step. When commit returns false the
// swap is abandoned and ErrSwapAborted is returned.
//
// commit must not call back into the Factory or any Router.
//
// Precondition: to must not be nil.
// Postcondition: On success o is a member of to and of no other router. On
// error membership is unchanged.
func (f *Factory) Swap(o Observer, to *Router, commit func() bool) error {
	if to == nil {
		return errors.New("swap: nil target router")
	}
	uid := o.UID()

	f.mu.Lock()
	if commit != nil && !commit() {
		f.mu.Unlock()
		return fmt.Errorf("swap %s to %s: %w", uid, to.loc, ErrSwapAborted)
	}
	from := f.memberOf[uid]
	if from == to {
		f.mu.Unlock()
		return nil
	}
	var b batch
	if from != nil {
		b.ds = append(b.ds, f.leaveLocked(from, uid)...)
		b.hooks = append(b.hooks, hookCall{uid: uid, region: from.loc})
		f.metrics.RecordTransition(observability.TransitionMap)
	}
	b.ds = append(b.ds, f.joinLocked(to, uid, o)...)
	b.hooks = append(b.hooks, hookCall{join: true, uid: uid, region: to.loc})
	f.enqueueLocked(b)
	f.mu.Unlock()

	f.flush()
	return nil
}

// Remove takes uid out of whichever router it belongs to.
//
// Postcondition: Returns ErrNotMember if uid is in no router.
func (f *Factory) Remove(uid string) error {
	f.mu.Lock()
	from, ok := f.memberOf[uid]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("remove %s: %w", uid, ErrNotMember)
	}
	f.enqueueLocked(batch{
		ds:    f.leaveLocked(from, uid),
		hooks: []hookCall{{uid: uid, region: from.loc}},
	})
	f.mu.Unlock()

	f.flush()
	return nil
}

// batch is the output of one membership change.
type batch struct {
	ds    []delivery
	hooks []hookCall
}

type hookCall struct {
	join   bool
	uid    string
	region world.Location
}

// enqueueLocked appends b to the outbox.
//
// Precondition: f.mu must be write-locked.
func (f *Factory) enqueueLocked(b batch) {
	f.outbox = append(f.outbox, b)
}

// flush drains the outbox in commit order. A caller that finds another
// goroutine draining waits for it, so every batch queued before flush
// returns has been delivered.
func (f *Factory) flush() {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	for {
		f.mu.Lock()
		if len(f.outbox) == 0 {
			f.outbox = nil
			f.mu.Unlock()
			return
		}
		b := f.outbox[0]
		f.outbox[0] = batch{}
		f.outbox = f.outbox[1:]
		f.mu.Unlock()

		f.deliver(b.ds)
		for _, h := range b.hooks {
			if h.join {
				f.hooks.join(h.uid, h.region)
			} else {
				f.hooks.leave(h.uid, h.region)
			}
		}
	}
}

type delivery struct {
	uid string
	to  Observer
	msg Message
}

// joinLocked adds o, known as uid, to r and returns the announcements:
// AddPlayer to everyone already in view, one RoomPlayers per visible region
// to o.
//
// Precondition: f.mu must be write-locked.
func (f *Factory) joinLocked(r *Router, uid string, o Observer) []delivery {
	r.members[uid] = o
	f.memberOf[uid] = r

	add := Message{Kind: KindAddPlayer, Sender: uid, Region: r.loc}
	ds := f.deliveriesLocked(r, ExtendedGroup, uid, add)
	ds = append(ds, delivery{uid: uid, to: o, msg: r.roomPlayersLocked(uid)})
	for _, n := range f.nearRoutersLocked(r) {
		ds = append(ds, delivery{uid: uid, to: o, msg: n.roomPlayersLocked(uid)})
	}
	return ds
}

// leaveLocked removes uid from r and returns RemovePlayer announcements for
// everyone who could see it.
//
// Precondition: f.mu must be write-locked and uid must be a member of r.
func (f *Factory) leaveLocked(r *Router, uid string) []delivery {
	delete(r.members, uid)
	delete(f.memberOf, uid)

	rm := Message{Kind: KindRemovePlayer, Sender: uid, Region: r.loc}
	return f.deliveriesLocked(r, ExtendedGroup, uid, rm)
}

// deliveriesLocked addresses msg to every observer of group relative to r,
// skipping except.
//
// Precondition: f.mu must be held.
func (f *Factory) deliveriesLocked(r *Router, group Group, except string, msg Message) []delivery {
	var out []delivery
	collect := func(members map[string]Observer) {
		for uid, o := range members {
			if uid != except {
				out = append(out, delivery{uid: uid, to: o, msg: msg})
			}
		}
	}
	if group == LocalGroup || group == ExtendedGroup {
		collect(r.members)
	}
	if group == LinkedGroup || group == ExtendedGroup {
		for _, n := range f.nearRoutersLocked(r) {
			collect(n.members)
		}
	}
	return out
}

// nearRoutersLocked resolves r's near rooms to routers. Near rooms whose
// router has not been created yet have no observers and are skipped.
func (f *Factory) nearRoutersLocked(r *Router) []*Router {
	out := make([]*Router, 0, len(r.near))
	for _, loc := range r.near {
		if n, ok := f.routers[loc]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (f *Factory) deliver(ds []delivery) (delivered int) {
	dropped := 0
	for _, d := range ds {
		if err := d.to.Push(d.msg); err != nil {
			dropped++
			f.logger.Debug("router message dropped",
				zap.String("uid", d.uid),
				zap.String("kind", d.msg.Kind.String()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	f.metrics.RecordDelivery(delivered, dropped)
	return delivered
}

func sortedUIDs(members map[string]Observer, except string) []string {
	out := make([]string, 0, len(members))
	for uid := range members {
		if uid != except {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}
