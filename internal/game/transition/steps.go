package transition

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/router"
	"github.com/cory-johannsen/mapworld/internal/game/session"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// stepRoom runs the room rules in order: room links first, then map exits.
// When both could fire in the same tick the link check wins, and a tick that
// crosses a link does not go on to test the old room's exits.
func (en *Engine) stepRoom(e Entity, s session.State, room *world.Room) {
	rect := s.Rect()

	if link := room.IntersectingRoomLink(rect); link != nil {
		en.touchLink(e, s, room, link)
	} else if en.leaveLink(e, room, rect) {
		return
	}

	if !s.Moving {
		return
	}
	exit := en.triggeredExit(e.UID, room.Exits, s.Destination, rect)
	if exit == nil {
		return
	}
	e.Body.Stop()
	if err := en.Commit(e, exit.Target, exit.TargetPosition, exit.TargetOrientation); err != nil {
		en.logger.Warn("map exit", zap.String("uid", e.UID), zap.Stringer("exit", exit), zap.Error(err))
	}
}

// touchLink records link as the candidate crossing. A closed door stops an
// entity whose destination lies beyond the link.
func (en *Engine) touchLink(e Entity, s session.State, room *world.Room, link *world.RoomLink) {
	if s.Moving && link.Blocks() {
		beyond := geom.R(s.Destination.X, s.Destination.Y, s.Width, s.Height)
		if !link.Touches(beyond) && room.InOtherRoom(link, beyond) != world.Unset {
			e.Body.Stop()
		}
	}
	en.mu.Lock()
	if st := en.lookup(e.UID); st != nil && !st.possiblyLeaving {
		st.possiblyLeaving = true
		st.latestLink = link
	}
	en.mu.Unlock()
}

// leaveLink resolves the side of the last touched link once the entity no
// longer overlaps any link. It reports whether the entity changed room.
func (en *Engine) leaveLink(e Entity, room *world.Room, rect geom.Rect) bool {
	en.mu.Lock()
	st := en.lookup(e.UID)
	if st == nil || !st.possiblyLeaving {
		en.mu.Unlock()
		return false
	}
	link := st.latestLink
	st.possiblyLeaving = false
	st.latestLink = nil
	en.mu.Unlock()

	id := room.InOtherRoom(link, rect)
	if id == world.Unset {
		return false
	}
	next, ok := room.InteriorMap().Room(id)
	if !ok {
		en.logger.Warn("room link leads to unknown room",
			zap.String("location", room.Location().String()),
			zap.Int("room", id),
		)
		return false
	}

	from := en.routers.CreateForRoom(room)
	to := en.routers.CreateForRoom(next)
	err := from.MoveTo(e.UID, to, func() { e.Body.SetRoom(id) })
	if errors.Is(err, router.ErrNotMember) || errors.Is(err, router.ErrNotNear) {
		err = en.routers.Swap(e.Observer, to, func() bool {
			if !en.alive(e.UID, st) {
				return false
			}
			e.Body.SetRoom(id)
			return true
		})
	}
	if err != nil {
		en.logger.Warn("room change", zap.String("uid", e.UID), zap.Error(err))
		return false
	}
	en.logger.Debug("room change",
		zap.String("uid", e.UID),
		zap.String("from", room.Location().String()),
		zap.String("to", next.Location().String()),
	)
	return true
}

// stepTown proposes leaving through a town exit, or entering the building
// the entity walks into through the entrance facing its approach.
func (en *Engine) stepTown(e Entity, s session.State, town *world.TownMap) {
	if !s.Moving || en.Pending(e.UID) {
		return
	}
	rect := s.Rect()
	if exit := en.triggeredExit(e.UID, town.Exits, s.Destination, rect); exit != nil {
		en.proposeLogged(e, s.Location, exit.Target, exit.TargetPosition, exit.TargetOrientation)
		return
	}
	b := town.IsEnteringBuilding(s.Destination, rect)
	if b == nil {
		return
	}
	entrance := en.buildingEntrance(e.UID, b, s)
	if entrance == nil {
		en.logger.Debug("no usable building entrance",
			zap.String("uid", e.UID),
			zap.String("location", town.Location().String()),
			zap.Int("building", b.ID),
		)
		e.Body.Stop()
		return
	}
	en.proposeLogged(e, s.Location, entrance.Owner(), entrance.InsertionPoint(), entrance.LocalOrientation())
}

// buildingEntrance picks the entrance facing the entity's heading, then the
// one on the side of the footprint it stands on. Entrances whose knowledge
// the entity lacks are skipped.
func (en *Engine) buildingEntrance(uid string, b *world.Building, s session.State) *world.MapExit {
	for _, ex := range []*world.MapExit{b.FindTownMapExit(s.Orientation), b.FindTownMapExitFrom(s.Position)} {
		if ex != nil && en.knows(uid, ex) {
			return ex
		}
	}
	return nil
}

// stepWorld proposes entering the town the entity walks into, arriving at
// the town exit on the side it approached from.
func (en *Engine) stepWorld(e Entity, s session.State, w *world.WorldMap) {
	if !s.Moving || en.Pending(e.UID) {
		return
	}
	rect := s.Rect()
	town := w.IsEnteringTown(s.Destination, rect)
	if town == nil {
		return
	}
	pos, orientation := town.InsertionPoint(), 0.0
	if gate := town.FindTownMapExit(rect); gate != nil {
		pos, orientation = gate.InsertionPoint(), gate.LocalOrientation()
	}
	en.proposeLogged(e, s.Location, town.Location(), pos, orientation)
}

// stepTileMap proposes leaving through a tile map exit.
func (en *Engine) stepTileMap(e Entity, s session.State, tm *world.TileMap) {
	if !s.Moving || en.Pending(e.UID) {
		return
	}
	if exit := en.triggeredExit(e.UID, tm.Exits, s.Destination, s.Rect()); exit != nil {
		en.proposeLogged(e, s.Location, exit.Target, exit.TargetPosition, exit.TargetOrientation)
	}
}

func (en *Engine) proposeLogged(e Entity, from, target world.Location, pos geom.Point, orientation float64) {
	if err := en.propose(e, from, target, pos, orientation); err != nil && !errors.Is(err, ErrHandshakePending) {
		en.logger.Warn("proposing map transition", zap.String("uid", e.UID), zap.Error(err))
	}
}

func (en *Engine) triggeredExit(uid string, exits []*world.MapExit, dest geom.Point, rect geom.Rect) *world.MapExit {
	for _, ex := range exits {
		if ex.Triggers(dest, rect) && en.knows(uid, ex) {
			return ex
		}
	}
	return nil
}
