// Package router fans region events out to the observers that can perceive
// them. Every region (room, town, world, tile map) gets one Router, created
// on demand by a Factory that owns all membership state.
package router

import (
	"fmt"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// Kind identifies the type of a router Message.
type Kind int

// Message kinds.
const (
	// KindAddPlayer announces that Sender became visible in Region.
	KindAddPlayer Kind = iota
	// KindRemovePlayer announces that Sender is no longer visible in Region.
	KindRemovePlayer
	// KindLocationChange announces that Sender crossed a room link from
	// Region into Target.
	KindLocationChange
	// KindPosition carries Sender's position update.
	KindPosition
	// KindRoomPlayers lists the members of Region for a new viewer.
	KindRoomPlayers
	// KindChat carries a free-text line from Sender.
	KindChat
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAddPlayer:
		return "add_player"
	case KindRemovePlayer:
		return "remove_player"
	case KindLocationChange:
		return "location_change"
	case KindPosition:
		return "position"
	case KindRoomPlayers:
		return "room_players"
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one routed event. Fields not relevant to Kind are zero.
type Message struct {
	Kind        Kind
	Sender      string
	Region      world.Location
	Target      world.Location
	Position    geom.Point
	Orientation float64
	Players     []string
	Text        string
}

// Observer receives routed messages. Push must not block; an observer that
// cannot accept a message returns an error and the message is dropped.
type Observer interface {
	UID() string
	Push(Message) error
}

// Group selects the recipients of a broadcast relative to a router.
type Group int

// Broadcast groups.
const (
	// LocalGroup is the router's own members.
	LocalGroup Group = iota
	// ExtendedGroup is the router's members plus the members of its near rooms.
	ExtendedGroup
	// LinkedGroup is the members of the near rooms only.
	LinkedGroup
)

// Hooks are notified of membership changes after the change is committed.
// Within one swap OnLeave is always called before OnJoin.
type Hooks struct {
	OnJoin  func(uid string, region world.Location)
	OnLeave func(uid string, region world.Location)
}

func (h Hooks) join(uid string, region world.Location) {
	if h.OnJoin != nil {
		h.OnJoin(uid, region)
	}
}

func (h Hooks) leave(uid string, region world.Location) {
	if h.OnLeave != nil {
		h.OnLeave(uid, region)
	}
}
