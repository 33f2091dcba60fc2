package router

import (
	"fmt"

	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/observability"
)

// Router is the fan-out table of one region. Its member set is guarded by
// the Factory that created it.
type Router struct {
	factory *Factory
	region  world.Region
	loc     world.Location
	// near holds the keys of the rooms across this room's links, computed
	// once at creation. Empty for non-room regions.
	near    []world.Location
	members map[string]Observer
}

// Location returns the region key the router serves.
func (r *Router) Location() world.Location { return r.loc }

// Region returns the region the router serves.
func (r *Router) Region() world.Region { return r.region }

// Near returns the locations of the router's near rooms.
func (r *Router) Near() []world.Location {
	out := make([]world.Location, len(r.near))
	copy(out, r.near)
	return out
}

// IsNear reports whether loc is one of the router's near rooms.
func (r *Router) IsNear(loc world.Location) bool {
	key := loc.Key()
	for _, n := range r.near {
		if n == key {
			return true
		}
	}
	return false
}

// Members returns the uids of the router's members, sorted.
func (r *Router) Members() []string {
	r.factory.mu.RLock()
	defer r.factory.mu.RUnlock()
	return sortedUIDs(r.members, "")
}

// Len returns the number of members.
func (r *Router) Len() int {
	r.factory.mu.RLock()
	defer r.factory.mu.RUnlock()
	return len(r.members)
}

// Join adds o to the router. Observers in view receive AddPlayer and o
// receives a RoomPlayers snapshot of this region and each near room.
//
// Postcondition: Returns ErrAlreadyMember if o already belongs to any router.
func (r *Router) Join(o Observer) error {
	f := r.factory
	uid := o.UID()
	f.mu.Lock()
	if cur, ok := f.memberOf[uid]; ok {
		f.mu.Unlock()
		return fmt.Errorf("join %s to %s (member of %s): %w", uid, r.loc, cur.loc, ErrAlreadyMember)
	}
	f.enqueueLocked(batch{
		ds:    f.joinLocked(r, uid, o),
		hooks: []hookCall{{join: true, uid: uid, region: r.loc}},
	})
	f.mu.Unlock()

	f.flush()
	return nil
}

// Leave removes uid from the router. The extended group receives
// RemovePlayer.
//
// Postcondition: Returns ErrNotMember if uid is not a member of r.
func (r *Router) Leave(uid string) error {
	f := r.factory
	f.mu.Lock()
	if cur := f.memberOf[uid]; cur != r {
		f.mu.Unlock()
		return fmt.Errorf("leave %s from %s: %w", uid, r.loc, ErrNotMember)
	}
	f.enqueueLocked(batch{
		ds:    f.leaveLocked(r, uid),
		hooks: []hookCall{{uid: uid, region: r.loc}},
	})
	f.mu.Unlock()

	f.flush()
	return nil
}

// MoveTo moves member uid across a room link into target, which must be one
// of r's near rooms. commit runs inside the critical section, after uid has
// left r and before it joins target.
//
// Both rooms receive LocationChange. Rooms that drop out of uid's view
// receive RemovePlayer, rooms that come into view receive AddPlayer, and uid
// receives RoomPlayers for each room newly in view.
//
// Postcondition: On error membership is unchanged and commit has not run.
func (r *Router) MoveTo(uid string, target *Router, commit func()) error {
	f := r.factory
	if target == nil || !r.IsNear(target.loc) {
		return fmt.Errorf("move %s from %s: %w", uid, r.loc, ErrNotNear)
	}

	f.mu.Lock()
	o, ok := r.members[uid]
	if !ok || f.memberOf[uid] != r {
		f.mu.Unlock()
		return fmt.Errorf("move %s from %s: %w", uid, r.loc, ErrNotMember)
	}
	delete(r.members, uid)
	if commit != nil {
		commit()
	}
	target.members[uid] = o
	f.memberOf[uid] = target

	oldView := f.viewLocked(r)
	newView := f.viewLocked(target)

	change := Message{Kind: KindLocationChange, Sender: uid, Region: r.loc, Target: target.loc}
	ds := f.deliveriesLocked(r, LocalGroup, uid, change)
	ds = append(ds, f.deliveriesLocked(target, LocalGroup, uid, change)...)
	rm := Message{Kind: KindRemovePlayer, Sender: uid, Region: r.loc}
	for loc, v := range oldView {
		if _, still := newView[loc]; still {
			continue
		}
		ds = append(ds, f.deliveriesLocked(v, LocalGroup, uid, rm)...)
	}
	add := Message{Kind: KindAddPlayer, Sender: uid, Region: target.loc}
	for loc, v := range newView {
		if _, seen := oldView[loc]; seen {
			continue
		}
		ds = append(ds, f.deliveriesLocked(v, LocalGroup, uid, add)...)
		ds = append(ds, delivery{uid: uid, to: o, msg: v.roomPlayersLocked(uid)})
	}
	f.metrics.RecordTransition(observability.TransitionRoom)
	f.enqueueLocked(batch{
		ds: ds,
		hooks: []hookCall{
			{uid: uid, region: r.loc},
			{join: true, uid: uid, region: target.loc},
		},
	})
	f.mu.Unlock()

	f.flush()
	return nil
}

// viewLocked returns r and its created near routers keyed by location.
func (f *Factory) viewLocked(r *Router) map[world.Location]*Router {
	view := map[world.Location]*Router{r.loc: r}
	for _, n := range f.nearRoutersLocked(r) {
		view[n.loc] = n
	}
	return view
}

// Broadcast pushes msg to the observers of group, skipping except. The
// recipient set is snapshotted under the read lock and messages are pushed
// after it is released.
//
// Postcondition: Returns the number of observers that accepted msg.
func (r *Router) Broadcast(msg Message, except string, group Group) int {
	f := r.factory
	f.mu.RLock()
	ds := f.deliveriesLocked(r, group, except, msg)
	f.mu.RUnlock()
	return f.deliver(ds)
}

// BroadcastToLinkedRegions pushes msg to the members of the rooms across
// r's links without reaching r's own members.
func (r *Router) BroadcastToLinkedRegions(msg Message, except string) int {
	return r.Broadcast(msg, except, LinkedGroup)
}

// roomPlayersLocked returns a RoomPlayers snapshot of r for viewer.
func (r *Router) roomPlayersLocked(viewer string) Message {
	return Message{Kind: KindRoomPlayers, Region: r.loc, Players: sortedUIDs(r.members, viewer)}
}

// BroadcastAt pushes msg to group of the router at loc. A region without a
// router has no observers: the call is a no-op returning 0.
func (f *Factory) BroadcastAt(loc world.Location, msg Message, except string, group Group) int {
	r, ok := f.Get(loc)
	if !ok {
		return 0
	}
	return r.Broadcast(msg, except, group)
}
