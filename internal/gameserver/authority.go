package gameserver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// LocalAuthority decides map transitions against the world graph it holds.
// It is the authority of a standalone server and the implementation behind
// the gRPC TransitionService.
type LocalAuthority struct {
	world  *world.Manager
	logger *zap.Logger
}

// NewLocalAuthority creates a LocalAuthority.
//
// Precondition: w and logger must not be nil.
func NewLocalAuthority(w *world.Manager, logger *zap.Logger) *LocalAuthority {
	return &LocalAuthority{world: w, logger: logger}
}

// CanLeave accepts req when its target is reachable from its origin through
// a live exit of the origin map and resolves to a region. Building entries
// are placed at the entrance's insertion point.
//
// Postcondition: Never returns an error for a well-formed request; refusals
// are reported as Accepted=false with a reason.
func (a *LocalAuthority) CanLeave(ctx context.Context, req transition.LeaveRequest) (transition.LeaveReply, error) {
	if err := ctx.Err(); err != nil {
		return transition.LeaveReply{}, err
	}
	if _, err := a.world.Region(req.Target); err != nil {
		return a.deny(req, fmt.Sprintf("unknown target %s", req.Target)), nil
	}

	var (
		reply transition.LeaveReply
		ok    bool
	)
	switch req.From.Shape() {
	case world.ShapeTown:
		reply, ok = a.fromTown(req)
	case world.ShapeWorld:
		reply, ok = a.fromWorld(req)
	case world.ShapeTileMap:
		reply, ok = a.fromTileMap(req)
	case world.ShapeRoom:
		reply, ok = a.fromRoom(req)
	}
	if !ok {
		return a.deny(req, fmt.Sprintf("%s is not reachable from %s", req.Target, req.From)), nil
	}
	a.logger.Debug("map transition accepted",
		zap.String("uid", req.UID),
		zap.String("request_id", req.RequestID),
		zap.String("from", req.From.String()),
		zap.String("target", reply.Target.String()),
	)
	return reply, nil
}

func (a *LocalAuthority) deny(req transition.LeaveRequest, reason string) transition.LeaveReply {
	a.logger.Info("map transition refused",
		zap.String("uid", req.UID),
		zap.String("request_id", req.RequestID),
		zap.String("reason", reason),
	)
	return transition.Deny(req, reason)
}

func (a *LocalAuthority) fromTown(req transition.LeaveRequest) (transition.LeaveReply, bool) {
	town, ok := a.world.Town(req.From)
	if !ok {
		return transition.LeaveReply{}, false
	}
	if exitTo(town.Exits, req.Target) != nil {
		return transition.Accept(req), true
	}
	for _, b := range town.Buildings {
		for _, e := range b.Exits() {
			if e.Inert() || !e.Owner().Equal(req.Target) {
				continue
			}
			reply := transition.Accept(req)
			reply.Position = e.InsertionPoint()
			reply.Orientation = e.LocalOrientation()
			return reply, true
		}
	}
	return transition.LeaveReply{}, false
}

// fromWorld accepts entering any town of the origin world. A town without
// exits is still enterable; it places the entity at the proposed point.
func (a *LocalAuthority) fromWorld(req transition.LeaveRequest) (transition.LeaveReply, bool) {
	w, ok := a.world.World(req.From.WorldID)
	if !ok || !req.Target.IsTown() {
		return transition.LeaveReply{}, false
	}
	for _, t := range w.Towns {
		if t.Location().Equal(req.Target) {
			return transition.Accept(req), true
		}
	}
	return transition.LeaveReply{}, false
}

func (a *LocalAuthority) fromTileMap(req transition.LeaveRequest) (transition.LeaveReply, bool) {
	tm, ok := a.world.TileMap(req.From)
	if !ok || exitTo(tm.Exits, req.Target) == nil {
		return transition.LeaveReply{}, false
	}
	return transition.Accept(req), true
}

func (a *LocalAuthority) fromRoom(req transition.LeaveRequest) (transition.LeaveReply, bool) {
	room, ok := a.world.Room(req.From)
	if !ok || exitTo(room.Exits, req.Target) == nil {
		return transition.LeaveReply{}, false
	}
	return transition.Accept(req), true
}

func exitTo(exits []*world.MapExit, target world.Location) *world.MapExit {
	for _, e := range exits {
		if !e.Inert() && e.Target.Equal(target) {
			return e
		}
	}
	return nil
}
