// Package transition decides, every tick, whether an entity crosses from one
// region into another, and performs the swap.
//
// Room links and room map exits are committed on the spot. Leaving a town,
// world or tile map is only proposed: an Authority (in-process or across the
// network) must accept the proposal before the engine commits it.
package transition

import (
	"context"
	"errors"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// Sentinel errors for map-level proposals.
var (
	ErrHandshakePending = errors.New("map transition already pending")
	ErrLeaveDenied      = errors.New("map transition denied")
	ErrStaleReply       = errors.New("map transition reply no longer applies")
	ErrAlreadySpawned   = errors.New("entity already spawned")
	ErrNotSpawned       = errors.New("entity not spawned")
)

// LeaveRequest proposes moving entity UID from the map at From to Target.
type LeaveRequest struct {
	RequestID   string
	UID         string
	From        world.Location
	Target      world.Location
	Position    geom.Point
	Orientation float64
}

// LeaveReply is the authoritative answer to a LeaveRequest. When Accepted,
// Target, Position and Orientation are what the proposer commits; the
// authority may correct them.
type LeaveReply struct {
	RequestID   string
	Accepted    bool
	Reason      string
	Target      world.Location
	Position    geom.Point
	Orientation float64
}

// Authority decides map-level transitions.
type Authority interface {
	// CanLeave answers req. It must honour ctx cancellation.
	CanLeave(ctx context.Context, req LeaveRequest) (LeaveReply, error)
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, req LeaveRequest) (LeaveReply, error)

// CanLeave calls f.
func (f AuthorityFunc) CanLeave(ctx context.Context, req LeaveRequest) (LeaveReply, error) {
	return f(ctx, req)
}

// Accept returns a reply accepting req as proposed.
func Accept(req LeaveRequest) LeaveReply {
	return LeaveReply{
		RequestID:   req.RequestID,
		Accepted:    true,
		Target:      req.Target,
		Position:    req.Position,
		Orientation: req.Orientation,
	}
}

// Deny returns a reply refusing req.
func Deny(req LeaveRequest, reason string) LeaveReply {
	return LeaveReply{RequestID: req.RequestID, Reason: reason}
}
